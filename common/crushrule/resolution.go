package crushrule

import (
	"github.com/couchbase/crushmap/common/crushmap"
)

// Resolution is the outcome of resolving one named rule.
type Resolution struct {
	Rule   string
	Groups []StorageGroup
}

// DeviceIDs returns the ids of every device selected by the rule, across
// all groups, without repeats and in first-seen order.
func (r *Resolution) DeviceIDs() []int {
	seen := make(map[int]bool)
	var out []int
	for _, group := range r.Groups {
		for _, dev := range group.Devices {
			if seen[dev.ID] {
				continue
			}
			seen[dev.ID] = true
			out = append(out, dev.ID)
		}
	}
	return out
}

// Overlapping reports the device ids which appear in more than one group.
func (r *Resolution) Overlapping() []int {
	owner := make(map[int]int)
	reported := make(map[int]bool)
	var out []int
	for groupIdx, group := range r.Groups {
		for _, dev := range group.Devices {
			firstGroup, ok := owner[dev.ID]
			if !ok {
				owner[dev.ID] = groupIdx
				continue
			}
			if firstGroup != groupIdx && !reported[dev.ID] {
				reported[dev.ID] = true
				out = append(out, dev.ID)
			}
		}
	}
	return out
}

func ResolveRule(m *crushmap.CrushMap, rule *crushmap.Rule) (*Resolution, error) {
	groups, err := Resolve(m, rule)
	if err != nil {
		return nil, err
	}
	return &Resolution{
		Rule:   rule.Name,
		Groups: groups,
	}, nil
}

// ResolveAll resolves every rule of the map in load order, stopping at the
// first rule which fails.
func ResolveAll(m *crushmap.CrushMap) ([]*Resolution, error) {
	rules := m.Rules()
	out := make([]*Resolution, 0, len(rules))
	for _, rule := range rules {
		res, err := ResolveRule(m, rule)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
