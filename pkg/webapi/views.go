package webapi

import (
	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/couchbase/crushmap/common/crushrule"
)

// These are the JSON representations served by the web api and printed by
// the command line tool.

type DeviceJson struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class,omitempty"`
}

type TypeJson struct {
	TypeID int    `json:"type_id"`
	Name   string `json:"name"`
}

type ItemJson struct {
	ID     int     `json:"id"`
	Weight float64 `json:"weight"`
	Pos    int     `json:"pos"`
}

type BucketJson struct {
	ID       int        `json:"id"`
	Name     string     `json:"name"`
	TypeID   int        `json:"type_id"`
	TypeName string     `json:"type_name"`
	Weight   float64    `json:"weight"`
	Alg      string     `json:"alg,omitempty"`
	Hash     string     `json:"hash,omitempty"`
	Items    []ItemJson `json:"items"`
}

type StepJson struct {
	Op       string `json:"op"`
	Item     *int   `json:"item,omitempty"`
	ItemName string `json:"item_name,omitempty"`
	Num      *int   `json:"num,omitempty"`
	Type     string `json:"type,omitempty"`
}

type RuleJson struct {
	RuleID  int        `json:"rule_id"`
	Name    string     `json:"rule_name"`
	RuleSet int        `json:"ruleset"`
	Type    int        `json:"type"`
	MinSize int        `json:"min_size"`
	MaxSize int        `json:"max_size"`
	Steps   []StepJson `json:"steps"`
}

type StorageGroupJson struct {
	Devices []DeviceJson `json:"devices"`
}

type ResolutionJson struct {
	Rule          string             `json:"rule"`
	StorageGroups []StorageGroupJson `json:"storage_groups"`
}

func DevicesToJson(devices []crushmap.Device) []DeviceJson {
	out := make([]DeviceJson, len(devices))
	for devIdx, dev := range devices {
		out[devIdx] = DeviceJson{
			ID:    dev.ID,
			Name:  dev.Name,
			Class: dev.Class,
		}
	}
	return out
}

func TypesToJson(types []crushmap.BucketType) []TypeJson {
	out := make([]TypeJson, len(types))
	for typeIdx, bucketType := range types {
		out[typeIdx] = TypeJson{
			TypeID: bucketType.TypeID,
			Name:   bucketType.Name,
		}
	}
	return out
}

func BucketsToJson(buckets []*crushmap.Bucket) []BucketJson {
	out := make([]BucketJson, len(buckets))
	for bucketIdx, bucket := range buckets {
		items := make([]ItemJson, len(bucket.Items))
		for itemIdx, item := range bucket.Items {
			items[itemIdx] = ItemJson{
				ID:     item.ID,
				Weight: item.Weight,
				Pos:    item.Pos,
			}
		}

		out[bucketIdx] = BucketJson{
			ID:       bucket.ID,
			Name:     bucket.Name,
			TypeID:   bucket.TypeID,
			TypeName: bucket.TypeName,
			Weight:   bucket.Weight,
			Alg:      bucket.Alg,
			Hash:     bucket.Hash,
			Items:    items,
		}
	}
	return out
}

func stepToJson(step crushmap.Step) StepJson {
	out := StepJson{Op: step.OpName()}

	switch step.Op {
	case crushmap.StepTake:
		item := step.Item
		out.Item = &item
		out.ItemName = step.ItemName
	case crushmap.StepChoose:
		num := step.Num
		out.Num = &num
		out.Type = step.BucketType
	case crushmap.StepSet:
		num := step.SetValue
		out.Num = &num
	}

	return out
}

func RulesToJson(rules []*crushmap.Rule) []RuleJson {
	out := make([]RuleJson, len(rules))
	for ruleIdx, rule := range rules {
		steps := make([]StepJson, len(rule.Steps))
		for stepIdx, step := range rule.Steps {
			steps[stepIdx] = stepToJson(step)
		}

		out[ruleIdx] = RuleJson{
			RuleID:  rule.ID,
			Name:    rule.Name,
			RuleSet: rule.RuleSet,
			Type:    rule.Type,
			MinSize: rule.MinSize,
			MaxSize: rule.MaxSize,
			Steps:   steps,
		}
	}
	return out
}

func ResolutionToJson(res *crushrule.Resolution) ResolutionJson {
	groups := make([]StorageGroupJson, len(res.Groups))
	for groupIdx, group := range res.Groups {
		groups[groupIdx] = StorageGroupJson{
			Devices: DevicesToJson(group.Devices),
		}
	}

	return ResolutionJson{
		Rule:          res.Rule,
		StorageGroups: groups,
	}
}
