// Package crushmap holds the immutable in-memory model of a crush map:
// devices, bucket types, buckets, tunables and decoded placement rules.
//
// A CrushMap is built once with New and never modified afterwards, so it
// may be shared between goroutines without any locking.
package crushmap

import (
	"golang.org/x/exp/slices"
)

// CrushMap is an indexed crush map.  It is never modified after New, so it
// can be shared between goroutines without locking as long as callers treat
// the buckets, rules and tunable values it hands out as read-only.
type CrushMap struct {
	tunables map[string]any

	devices []Device
	types   []BucketType
	buckets []*Bucket
	rules   []*Rule

	devicesByID   map[int]int
	bucketsByID   map[int]*Bucket
	bucketsByName map[string]*Bucket
	typesByName   map[string]BucketType
	typesByID     map[int]BucketType
	rulesByName   map[string]*Rule
	rulesByID     map[int]*Rule
}

// New builds a CrushMap from a parsed document.  The document is copied, so
// later changes to it are not observed by the map.  Duplicate device or bucket
// ids are rejected, references between entities are not checked here (see
// Validate).
func New(doc *Document) (*CrushMap, error) {
	m := &CrushMap{
		tunables:      make(map[string]any, len(doc.Tunables)),
		devices:       make([]Device, 0, len(doc.Devices)),
		types:         make([]BucketType, 0, len(doc.Types)),
		buckets:       make([]*Bucket, 0, len(doc.Buckets)),
		rules:         make([]*Rule, 0, len(doc.Rules)),
		devicesByID:   make(map[int]int, len(doc.Devices)),
		bucketsByID:   make(map[int]*Bucket, len(doc.Buckets)),
		bucketsByName: make(map[string]*Bucket, len(doc.Buckets)),
		typesByName:   make(map[string]BucketType, len(doc.Types)),
		typesByID:     make(map[int]BucketType, len(doc.Types)),
		rulesByName:   make(map[string]*Rule, len(doc.Rules)),
		rulesByID:     make(map[int]*Rule, len(doc.Rules)),
	}

	for name, value := range doc.Tunables {
		m.tunables[name] = value
	}

	for _, devJson := range doc.Devices {
		if devJson.ID < 0 {
			return nil, IntegrityErrorf("device %s has negative id %d", devJson.Name, devJson.ID)
		}
		if _, ok := m.devicesByID[devJson.ID]; ok {
			return nil, IntegrityErrorf("duplicate device id %d", devJson.ID)
		}

		m.devicesByID[devJson.ID] = len(m.devices)
		m.devices = append(m.devices, Device{
			ID:    devJson.ID,
			Name:  devJson.Name,
			Class: devJson.Class,
		})
	}

	for _, typeJson := range doc.Types {
		bucketType := BucketType{
			TypeID: typeJson.TypeID,
			Name:   typeJson.Name,
		}
		m.types = append(m.types, bucketType)

		// the first entry wins for both indexes, mirroring load order lookups
		if _, ok := m.typesByName[bucketType.Name]; !ok {
			m.typesByName[bucketType.Name] = bucketType
		}
		if _, ok := m.typesByID[bucketType.TypeID]; !ok {
			m.typesByID[bucketType.TypeID] = bucketType
		}
	}

	for _, bucketJson := range doc.Buckets {
		if bucketJson.ID >= 0 {
			return nil, IntegrityErrorf("bucket %s has non-negative id %d", bucketJson.Name, bucketJson.ID)
		}
		if _, ok := m.bucketsByID[bucketJson.ID]; ok {
			return nil, IntegrityErrorf("duplicate bucket id %d", bucketJson.ID)
		}

		bucket := &Bucket{
			ID:       bucketJson.ID,
			Name:     bucketJson.Name,
			TypeID:   bucketJson.TypeID,
			TypeName: bucketJson.TypeName,
			Weight:   bucketJson.Weight,
			Alg:      bucketJson.Alg,
			Hash:     bucketJson.Hash,
			Items:    make([]Item, 0, len(bucketJson.Items)),
		}
		for _, itemJson := range bucketJson.Items {
			bucket.Items = append(bucket.Items, Item{
				ID:     itemJson.ID,
				Weight: itemJson.Weight,
				Pos:    itemJson.Pos,
			})
		}

		m.buckets = append(m.buckets, bucket)
		m.bucketsByID[bucket.ID] = bucket
		if _, ok := m.bucketsByName[bucket.Name]; !ok {
			m.bucketsByName[bucket.Name] = bucket
		}
	}

	for _, ruleJson := range doc.Rules {
		rule, err := decodeRule(ruleJson)
		if err != nil {
			return nil, err
		}

		m.rules = append(m.rules, rule)
		if _, ok := m.rulesByName[rule.Name]; !ok {
			m.rulesByName[rule.Name] = rule
		}
		if _, ok := m.rulesByID[rule.ID]; !ok {
			m.rulesByID[rule.ID] = rule
		}
	}

	return m, nil
}

func (m *CrushMap) Tunable(name string) (any, error) {
	value, ok := m.tunables[name]
	if !ok {
		return nil, notFound(kindTunable, name)
	}
	return value, nil
}

// Tunables returns a copy of all tunables.
func (m *CrushMap) Tunables() map[string]any {
	out := make(map[string]any, len(m.tunables))
	for name, value := range m.tunables {
		out[name] = value
	}
	return out
}

// TunableNames returns the tunable names in sorted order.
func (m *CrushMap) TunableNames() []string {
	names := make([]string, 0, len(m.tunables))
	for name := range m.tunables {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *CrushMap) TypeByName(name string) (BucketType, error) {
	bucketType, ok := m.typesByName[name]
	if !ok {
		return BucketType{}, notFound(kindType, name)
	}
	return bucketType, nil
}

func (m *CrushMap) TypeByID(typeID int) (BucketType, error) {
	bucketType, ok := m.typesByID[typeID]
	if !ok {
		return BucketType{}, notFound(kindType, typeID)
	}
	return bucketType, nil
}

// BucketByID returns the bucket with this id.  The bucket and its Items are
// shared by every reader of the map and must be treated as read-only.
func (m *CrushMap) BucketByID(id int) (*Bucket, error) {
	bucket, ok := m.bucketsByID[id]
	if !ok {
		return nil, notFound(kindBucket, id)
	}
	return bucket, nil
}

// BucketByName returns the first bucket with this name in load order.  The
// bucket is shared and must be treated as read-only.
func (m *CrushMap) BucketByName(name string) (*Bucket, error) {
	bucket, ok := m.bucketsByName[name]
	if !ok {
		return nil, notFound(kindBucket, name)
	}
	return bucket, nil
}

// BucketsByType returns every bucket whose type id matches the named type.
// An unknown type name yields an empty result rather than an error, unlike
// TypeByName.  The buckets are shared and must be treated as read-only.
func (m *CrushMap) BucketsByType(typeName string) []*Bucket {
	bucketType, err := m.TypeByName(typeName)
	if err != nil {
		return nil
	}

	var out []*Bucket
	for _, bucket := range m.buckets {
		if bucket.TypeID == bucketType.TypeID {
			out = append(out, bucket)
		}
	}
	return out
}

// ChildrenByType returns the direct children of a bucket which are buckets of
// the named type, in item order.  Device items are skipped.  The buckets are
// shared and must be treated as read-only.
func (m *CrushMap) ChildrenByType(bucketID int, typeName string) ([]*Bucket, error) {
	bucket, err := m.BucketByID(bucketID)
	if err != nil {
		return nil, err
	}

	var children []*Bucket
	for _, item := range bucket.Items {
		if item.ID >= 0 {
			continue
		}

		child, ok := m.bucketsByID[item.ID]
		if !ok {
			return nil, IntegrityErrorf("bucket %d references unknown bucket %d", bucket.ID, item.ID)
		}

		if child.TypeName == typeName {
			children = append(children, child)
		}
	}

	return children, nil
}

// RuleByName returns the first rule with this name in load order.  The rule
// and its Steps are shared and must be treated as read-only.
func (m *CrushMap) RuleByName(name string) (*Rule, error) {
	rule, ok := m.rulesByName[name]
	if !ok {
		return nil, notFound(kindRule, name)
	}
	return rule, nil
}

func (m *CrushMap) RuleByID(id int) (*Rule, error) {
	rule, ok := m.rulesByID[id]
	if !ok {
		return nil, notFound(kindRule, id)
	}
	return rule, nil
}

func (m *CrushMap) DeviceByID(id int) (Device, error) {
	devIdx, ok := m.devicesByID[id]
	if !ok {
		return Device{}, notFound(kindDevice, id)
	}
	return m.devices[devIdx], nil
}

func (m *CrushMap) DeviceByName(name string) (Device, error) {
	for _, dev := range m.devices {
		if dev.Name == name {
			return dev, nil
		}
	}
	return Device{}, notFound(kindDevice, name)
}

func (m *CrushMap) Devices() []Device {
	return slices.Clone(m.devices)
}

func (m *CrushMap) Types() []BucketType {
	return slices.Clone(m.types)
}

// Buckets returns the buckets in load order.  The slice is a copy, but the
// buckets it points to are shared and must be treated as read-only.
func (m *CrushMap) Buckets() []*Bucket {
	return slices.Clone(m.buckets)
}

// Rules returns the rules in load order.  The slice is a copy, but the rules
// it points to are shared and must be treated as read-only.
func (m *CrushMap) Rules() []*Rule {
	return slices.Clone(m.rules)
}
