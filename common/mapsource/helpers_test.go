package mapsource

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testDocument builds a one host map whose only bucket carries hostName, so
// tests can tell successive versions apart.
func testDocument(t *testing.T, hostName string) []byte {
	take := -1
	doc := crushmap.Document{
		Tunables: map[string]any{"choose_total_tries": 50},
		Devices:  []crushmap.DeviceJson{{ID: 0, Name: "osd.0"}, {ID: 1, Name: "osd.1"}},
		Types:    []crushmap.BucketTypeJson{{TypeID: 0, Name: "osd"}, {TypeID: 1, Name: "host"}},
		Buckets: []crushmap.BucketJson{{
			ID: -1, Name: hostName, TypeID: 1, TypeName: "host",
			Items: []crushmap.ItemJson{{ID: 0, Weight: 1}, {ID: 1, Weight: 1, Pos: 1}},
		}},
		Rules: []crushmap.RuleJson{{
			RuleName: "data",
			Steps:    []crushmap.StepJson{{Op: "take", Item: &take}, {Op: "emit"}},
		}},
	}

	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func testLogger(t *testing.T) *zap.Logger {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	return logger
}

func hostName(t *testing.T, snap *Snapshot) string {
	buckets := snap.Map.BucketsByType("host")
	require.Len(t, buckets, 1)
	return buckets[0].Name
}

func waitSnapshot(t *testing.T, ch <-chan *Snapshot) *Snapshot {
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "snapshot channel closed unexpectedly")
		return snap
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a snapshot")
	}
	return nil
}

func requireNoSnapshot(t *testing.T, ch <-chan *Snapshot, wait time.Duration) {
	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot with revision %v", snap.Revision)
	case <-time.After(wait):
	}
}

func waitClosed(t *testing.T, ch <-chan *Snapshot) {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for the snapshot channel to close")
		}
	}
}
