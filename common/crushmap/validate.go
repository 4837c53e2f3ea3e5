package crushmap

import "errors"

// Validate checks the referential integrity of the map: every bucket item
// must resolve to a device or a bucket, every take step must name a known
// bucket, and the bucket containment graph must be acyclic.  All problems
// found are returned joined together, each wrapping ErrIntegrity.
func (m *CrushMap) Validate() error {
	var errs []error

	for _, bucket := range m.buckets {
		for _, item := range bucket.Items {
			if item.ID >= 0 {
				if _, ok := m.devicesByID[item.ID]; !ok {
					errs = append(errs, IntegrityErrorf("bucket %s references unknown device %d", bucket.Name, item.ID))
				}
				continue
			}

			if _, ok := m.bucketsByID[item.ID]; !ok {
				errs = append(errs, IntegrityErrorf("bucket %s references unknown bucket %d", bucket.Name, item.ID))
			}
		}
	}

	for _, rule := range m.rules {
		for _, step := range rule.Steps {
			if step.Op != StepTake {
				continue
			}
			if _, ok := m.bucketsByID[step.Item]; !ok {
				errs = append(errs, IntegrityErrorf("rule %s takes unknown bucket %d", rule.Name, step.Item))
			}
		}
	}

	errs = append(errs, m.findCycles()...)

	return errors.Join(errs...)
}

const (
	visitNone = iota
	visitActive
	visitDone
)

type cycleFrame struct {
	bucket  *Bucket
	nextIdx int
}

// findCycles runs an iterative depth first search over every bucket and
// reports each back edge it finds.
func (m *CrushMap) findCycles() []error {
	var errs []error
	state := make(map[int]int, len(m.buckets))

	for _, root := range m.buckets {
		if state[root.ID] != visitNone {
			continue
		}

		state[root.ID] = visitActive
		stack := []cycleFrame{{bucket: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.nextIdx >= len(top.bucket.Items) {
				state[top.bucket.ID] = visitDone
				stack = stack[:len(stack)-1]
				continue
			}

			item := top.bucket.Items[top.nextIdx]
			top.nextIdx++
			if item.ID >= 0 {
				continue
			}

			child, ok := m.bucketsByID[item.ID]
			if !ok {
				// reported by the reference checks
				continue
			}

			switch state[child.ID] {
			case visitActive:
				errs = append(errs, IntegrityErrorf("bucket %s is contained in itself via %s", child.Name, top.bucket.Name))
			case visitNone:
				state[child.ID] = visitActive
				stack = append(stack, cycleFrame{bucket: child})
			}
		}
	}

	return errs
}
