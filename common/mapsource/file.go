package mapsource

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type FileProviderOptions struct {
	Logger *zap.Logger
	Path   string

	// Encoding defaults to the one implied by the file name.
	Encoding *Encoding
}

// FileProvider reads a crush map from the local filesystem.  Its revision
// is a generation counter bumped on every successful load.
type FileProvider struct {
	logger   *zap.Logger
	path     string
	encoding Encoding

	generation atomic.Uint64
}

var _ Provider = (*FileProvider)(nil)

func NewFileProvider(opts FileProviderOptions) (*FileProvider, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var encoding Encoding
	if opts.Encoding != nil {
		encoding = *opts.Encoding
	} else {
		pathEncoding, err := EncodingFromPath(opts.Path)
		if err != nil {
			return nil, err
		}
		encoding = pathEncoding
	}

	return &FileProvider{
		logger:   logger,
		path:     opts.Path,
		encoding: encoding,
	}, nil
}

func (p *FileProvider) Get(ctx context.Context) (*Snapshot, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNoDocument, "file %s", p.path)
		}
		return nil, errors.Wrap(err, "failed to read crush map file")
	}

	m, err := p.encoding.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", p.path)
	}

	return &Snapshot{
		Revision: []uint64{p.generation.Add(1)},
		Source:   "file:" + p.path,
		Map:      m,
	}, nil
}

func (p *FileProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	// we load the first document before starting the watcher so that a
	// missing or broken file is reported directly to the caller.
	firstSnap, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}

	watcher, err := NewFileWatcher(p.path, p.logger)
	if err != nil {
		return nil, err
	}

	changeCh := make(chan struct{}, 1)
	unsub := watcher.Subscribe(changeCh)

	outputCh := make(chan *Snapshot, 1)
	outputCh <- firstSnap

	go func() {
		defer close(outputCh)
		defer func() {
			unsub()
			_ = watcher.Close()
		}()

		for {
			select {
			case <-changeCh:
			case <-ctx.Done():
				return
			}

			snap, err := p.Get(ctx)
			if err != nil {
				// partially written files are common here, the next write
				// event will trigger another attempt.
				p.logger.Warn("failed to reload crush map file",
					zap.String("path", p.path),
					zap.Error(err))
				continue
			}

			p.logger.Debug("reloaded crush map file",
				zap.String("path", p.path),
				zap.Uint64s("revision", snap.Revision))

			if !sendSnapshot(ctx, outputCh, snap) {
				return
			}
		}
	}()

	return outputCh, nil
}
