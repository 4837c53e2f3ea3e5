// Package mapsource loads crush map documents from the places a deployment
// keeps them (a local file, an etcd key or a ZooKeeper node) and keeps
// callers informed as those documents change.
package mapsource

import (
	"context"

	"github.com/couchbase/crushmap/common/crushmap"
)

// Snapshot is one successfully decoded version of a crush map.  Revisions
// from the same provider are comparable with CompareRevisions.
type Snapshot struct {
	Revision []uint64
	Source   string
	Map      *crushmap.CrushMap
}

/*
Get returns the current document.  Watch returns the current document as the
first value on the channel and then every subsequent version.  The channel is
closed once ctx is cancelled.  A document which fails to decode during a watch
is logged and skipped, the previously delivered snapshot remains the latest.
*/
type Provider interface {
	Get(ctx context.Context) (*Snapshot, error)
	Watch(ctx context.Context) (<-chan *Snapshot, error)
}

func sendSnapshot(ctx context.Context, outputCh chan<- *Snapshot, snap *Snapshot) bool {
	select {
	case outputCh <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
