package crushmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

var (
	ErrUnknownFormat = errors.New("unknown crush map document format")
)

// Document is the parsed form of a crush map dump, as produced by
// `ceph osd crush dump`.  Only the keys used by the resolver are kept.
type Document struct {
	Tunables map[string]any   `json:"tunables" yaml:"tunables"`
	Devices  []DeviceJson     `json:"devices" yaml:"devices"`
	Types    []BucketTypeJson `json:"types" yaml:"types"`
	Buckets  []BucketJson     `json:"buckets" yaml:"buckets"`
	Rules    []RuleJson       `json:"rules" yaml:"rules"`
}

type DeviceJson struct {
	ID    int    `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Class string `json:"class,omitempty" yaml:"class,omitempty"`
}

type BucketTypeJson struct {
	TypeID int    `json:"type_id" yaml:"type_id"`
	Name   string `json:"name" yaml:"name"`
}

type ItemJson struct {
	ID     int     `json:"id" yaml:"id"`
	Weight float64 `json:"weight" yaml:"weight"`
	Pos    int     `json:"pos" yaml:"pos"`
}

type BucketJson struct {
	ID       int        `json:"id" yaml:"id"`
	Name     string     `json:"name" yaml:"name"`
	TypeID   int        `json:"type_id" yaml:"type_id"`
	TypeName string     `json:"type_name" yaml:"type_name"`
	Weight   float64    `json:"weight" yaml:"weight"`
	Alg      string     `json:"alg,omitempty" yaml:"alg,omitempty"`
	Hash     string     `json:"hash,omitempty" yaml:"hash,omitempty"`
	Items    []ItemJson `json:"items" yaml:"items"`
}

type StepJson struct {
	Op       string `json:"op" yaml:"op"`
	Item     *int   `json:"item,omitempty" yaml:"item,omitempty"`
	ItemName string `json:"item_name,omitempty" yaml:"item_name,omitempty"`
	Num      int    `json:"num,omitempty" yaml:"num,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
}

type RuleJson struct {
	RuleID   int        `json:"rule_id" yaml:"rule_id"`
	RuleName string     `json:"rule_name" yaml:"rule_name"`
	RuleSet  int        `json:"ruleset" yaml:"ruleset"`
	Type     int        `json:"type" yaml:"type"`
	MinSize  int        `json:"min_size" yaml:"min_size"`
	MaxSize  int        `json:"max_size" yaml:"max_size"`
	Steps    []StepJson `json:"steps" yaml:"steps"`
}

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// FormatFromPath picks the document format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// ParseFormat accepts the user facing format names.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
}

func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	err := json.Unmarshal(data, &doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func ParseYAML(data []byte) (*Document, error) {
	var doc Document
	err := yaml.Unmarshal(data, &doc)
	if err != nil {
		return nil, err
	}

	for name, value := range doc.Tunables {
		doc.Tunables[name] = normalizeYAMLValue(value)
	}

	return &doc, nil
}

// normalizeYAMLValue converts the integer kinds produced by the yaml decoder
// into float64, so opaque values read the same as they do from JSON.
func normalizeYAMLValue(value any) any {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case []any:
		out := make([]any, len(v))
		for valueIdx, elem := range v {
			out[valueIdx] = normalizeYAMLValue(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, elem := range v {
			out[key] = normalizeYAMLValue(elem)
		}
		return out
	}
	return value
}

func Parse(data []byte, format Format) (*Document, error) {
	switch format {
	case FormatJSON:
		return ParseJSON(data)
	case FormatYAML:
		return ParseYAML(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
}

// Load parses a document and builds the CrushMap for it in one go.
func Load(data []byte, format Format) (*CrushMap, error) {
	doc, err := Parse(data, format)
	if err != nil {
		return nil, err
	}
	return New(doc)
}

var setStepOps = map[string]bool{
	"set_choose_tries":                true,
	"set_chooseleaf_tries":            true,
	"set_choose_local_tries":          true,
	"set_choose_local_fallback_tries": true,
	"set_chooseleaf_vary_r":           true,
	"set_chooseleaf_stable":           true,
	"set_msr_descents":                true,
	"set_msr_collision_tries":         true,
}

func decodeStep(raw StepJson) (Step, error) {
	switch raw.Op {
	case "take":
		if raw.Item == nil {
			return Step{}, RuleFormatErrorf("take step is missing its item")
		}
		return Step{
			Op:       StepTake,
			Item:     *raw.Item,
			ItemName: raw.ItemName,
		}, nil
	case "choose_firstn", "chooseleaf_firstn", "choose_indep", "chooseleaf_indep":
		step := Step{
			Op:         StepChoose,
			Num:        raw.Num,
			BucketType: raw.Type,
		}
		if strings.HasPrefix(raw.Op, "chooseleaf") {
			step.Scope = ScopeLeaf
		}
		if strings.HasSuffix(raw.Op, "_indep") {
			step.Mode = ChooseIndep
		}
		return step, nil
	case "emit":
		return Step{Op: StepEmit}, nil
	case "noop":
		return Step{Op: StepNoop}, nil
	}

	if setStepOps[raw.Op] {
		return Step{
			Op:       StepSet,
			SetName:  raw.Op,
			SetValue: raw.Num,
		}, nil
	}

	return Step{}, RuleFormatErrorf("unknown step op %q", raw.Op)
}

func decodeRule(raw RuleJson) (*Rule, error) {
	rule := &Rule{
		ID:      raw.RuleID,
		Name:    raw.RuleName,
		RuleSet: raw.RuleSet,
		Type:    raw.Type,
		MinSize: raw.MinSize,
		MaxSize: raw.MaxSize,
		Steps:   make([]Step, 0, len(raw.Steps)),
	}

	for stepIdx, rawStep := range raw.Steps {
		step, err := decodeStep(rawStep)
		if err != nil {
			return nil, fmt.Errorf("rule %s step %d: %w", raw.RuleName, stepIdx, err)
		}
		rule.Steps = append(rule.Steps, step)
	}

	return rule, nil
}
