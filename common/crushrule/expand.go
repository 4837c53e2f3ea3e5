package crushrule

import (
	"github.com/couchbase/crushmap/common/crushmap"
)

type expandFrame struct {
	bucket  *crushmap.Bucket
	nextIdx int
}

// ExpandToDevices returns every device below id in depth-first pre-order of
// the bucket items.  A non-negative id names a single device.
//
// The walk uses an explicit stack, so malformed deep maps cannot exhaust the
// goroutine stack.  A bucket which is reached again while it is still being
// expanded is a cycle and fails with ErrIntegrity.  A bucket reachable via two
// different parents is expanded once per parent.
func ExpandToDevices(m *crushmap.CrushMap, id int) ([]crushmap.Device, error) {
	if id >= 0 {
		dev, err := m.DeviceByID(id)
		if err != nil {
			return nil, err
		}
		return []crushmap.Device{dev}, nil
	}

	root, err := m.BucketByID(id)
	if err != nil {
		return nil, err
	}

	return expandBucket(m, root, nil)
}

// expandBucket appends the devices of bucket to out.
func expandBucket(m *crushmap.CrushMap, bucket *crushmap.Bucket, out []crushmap.Device) ([]crushmap.Device, error) {
	onPath := map[int]bool{bucket.ID: true}
	stack := []expandFrame{{bucket: bucket}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.nextIdx >= len(top.bucket.Items) {
			delete(onPath, top.bucket.ID)
			stack = stack[:len(stack)-1]
			continue
		}

		item := top.bucket.Items[top.nextIdx]
		top.nextIdx++

		if item.ID >= 0 {
			dev, err := m.DeviceByID(item.ID)
			if err != nil {
				return nil, crushmap.IntegrityErrorf("bucket %d references unknown device %d", top.bucket.ID, item.ID)
			}
			out = append(out, dev)
			continue
		}

		child, err := m.BucketByID(item.ID)
		if err != nil {
			return nil, crushmap.IntegrityErrorf("bucket %d references unknown bucket %d", top.bucket.ID, item.ID)
		}
		if onPath[child.ID] {
			return nil, crushmap.IntegrityErrorf("cycle detected: bucket %d contains itself via bucket %d", child.ID, top.bucket.ID)
		}

		onPath[child.ID] = true
		stack = append(stack, expandFrame{bucket: child})
	}

	return out, nil
}
