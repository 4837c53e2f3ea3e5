package mapsource

import (
	"context"

	"github.com/couchbase/crushmap/common/crushmap"
)

type StaticProviderOptions struct {
	Map    *crushmap.CrushMap
	Source string
}

// StaticProvider serves a single map which never changes.
type StaticProvider struct {
	snap *Snapshot
}

func NewStaticProvider(opts StaticProviderOptions) (*StaticProvider, error) {
	if opts.Map == nil {
		return nil, ErrNoDocument
	}

	source := opts.Source
	if source == "" {
		source = "static"
	}

	return &StaticProvider{
		snap: &Snapshot{
			Revision: []uint64{1},
			Source:   source,
			Map:      opts.Map,
		},
	}, nil
}

func (p *StaticProvider) Get(ctx context.Context) (*Snapshot, error) {
	return p.snap, nil
}

func (p *StaticProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	outputCh := make(chan *Snapshot, 1)
	outputCh <- p.snap

	go func() {
		<-ctx.Done()
		close(outputCh)
	}()

	return outputCh, nil
}
