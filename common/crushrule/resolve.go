// Package crushrule evaluates the steps of a crush rule against a crush map
// and produces the storage groups (one per take/emit span) the rule selects.
//
// Only the structure of the hierarchy is walked; the weighted CRUSH hash is
// not applied, so every candidate device reachable under a rule is returned.
// Replica counts (num) and the firstn/indep and choose/chooseleaf variants
// all reduce to the same "descend to children of type" transition.
package crushrule

import (
	"github.com/couchbase/crushmap/common/crushmap"
)

// StorageGroup is the set of devices selected by one take/emit span.
type StorageGroup struct {
	Devices []crushmap.Device
}

func (g StorageGroup) IDs() []int {
	ids := make([]int, len(g.Devices))
	for devIdx, dev := range g.Devices {
		ids[devIdx] = dev.ID
	}
	return ids
}

// search is one open take: the group it fills and its current frontier.
type search struct {
	groupIdx int
	frontier []*crushmap.Bucket
}

// Resolve runs every step of the rule and returns one StorageGroup per take
// step, in take order.
//
// Several takes may be open at once; choose steps advance all of them
// together, but each keeps its own frontier, and an emit materializes each
// open search into its own group before closing them all.
//
// Evaluation is atomic: on any error no groups are returned.
func Resolve(m *crushmap.CrushMap, rule *crushmap.Rule) ([]StorageGroup, error) {
	var groups []StorageGroup
	var open []*search

	for stepIdx, step := range rule.Steps {
		switch step.Op {
		case crushmap.StepTake:
			bucket, err := m.BucketByID(step.Item)
			if err != nil {
				return nil, err
			}

			groups = append(groups, StorageGroup{})
			open = append(open, &search{
				groupIdx: len(groups) - 1,
				frontier: []*crushmap.Bucket{bucket},
			})

		case crushmap.StepChoose:
			for _, s := range open {
				var children []*crushmap.Bucket
				for _, bucket := range s.frontier {
					found, err := m.ChildrenByType(bucket.ID, step.BucketType)
					if err != nil {
						return nil, err
					}
					children = append(children, found...)
				}
				s.frontier = children
			}

		case crushmap.StepEmit:
			if len(open) == 0 {
				return nil, crushmap.RuleFormatErrorf(
					"rule %s step %d: emit without a matching take", rule.Name, stepIdx)
			}

			for _, s := range open {
				var devices []crushmap.Device
				for _, bucket := range s.frontier {
					var err error
					devices, err = expandBucket(m, bucket, devices)
					if err != nil {
						return nil, err
					}
				}
				groups[s.groupIdx].Devices = devices
			}
			open = nil

		case crushmap.StepSet, crushmap.StepNoop:
			// placement tuning only, nothing to traverse

		default:
			return nil, crushmap.RuleFormatErrorf(
				"rule %s step %d: unsupported op %s", rule.Name, stepIdx, step.Op)
		}
	}

	if len(open) > 0 {
		return nil, crushmap.RuleFormatErrorf(
			"rule %s: %d take step(s) without a matching emit", rule.Name, len(open))
	}

	return groups, nil
}

func ResolveByName(m *crushmap.CrushMap, ruleName string) ([]StorageGroup, error) {
	rule, err := m.RuleByName(ruleName)
	if err != nil {
		return nil, err
	}
	return Resolve(m, rule)
}
