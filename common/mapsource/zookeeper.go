package mapsource

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ZkConn is the subset of *zk.Conn used by ZkProvider.
type ZkConn interface {
	Get(path string) ([]byte, *zk.Stat, error)
	GetW(path string) ([]byte, *zk.Stat, <-chan zk.Event, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
}

type ZkProviderOptions struct {
	Logger   *zap.Logger
	Conn     ZkConn
	Path     string
	Encoding Encoding
}

// ZkProvider reads a crush map stored in the data of a ZooKeeper node.  The
// snapshot revision is the zxid of the last modification of the node.
type ZkProvider struct {
	logger   *zap.Logger
	conn     ZkConn
	path     string
	encoding Encoding

	newBackOff func() backoff.BackOff
}

var _ Provider = (*ZkProvider)(nil)

func NewZkProvider(opts ZkProviderOptions) (*ZkProvider, error) {
	if opts.Conn == nil {
		return nil, errors.New("a zookeeper connection is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ZkProvider{
		logger:   logger,
		conn:     opts.Conn,
		path:     opts.Path,
		encoding: opts.Encoding,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}, nil
}

func (p *ZkProvider) decode(data []byte, stat *zk.Stat) (*Snapshot, error) {
	m, err := p.encoding.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode zookeeper node %s", p.path)
	}

	return &Snapshot{
		Revision: []uint64{uint64(stat.Mzxid)},
		Source:   "zk:" + p.path,
		Map:      m,
	}, nil
}

func (p *ZkProvider) Get(ctx context.Context) (*Snapshot, error) {
	data, stat, err := p.conn.Get(p.path)
	if err != nil {
		if errors.Is(err, zk.ErrNoNode) {
			return nil, errors.Wrapf(ErrNoDocument, "zookeeper node %s", p.path)
		}
		return nil, errors.Wrap(err, "failed to read crush map from zookeeper")
	}

	return p.decode(data, stat)
}

// getW reads the node and arms a watch on it.  When the node does not exist
// an existence watch is armed instead and a nil snapshot is returned.
func (p *ZkProvider) getW() (*Snapshot, <-chan zk.Event, error) {
	data, stat, eventCh, err := p.conn.GetW(p.path)
	if errors.Is(err, zk.ErrNoNode) {
		exists, _, existsCh, err := p.conn.ExistsW(p.path)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			// created between the two calls, read it again straight away
			retryCh := make(chan zk.Event, 1)
			retryCh <- zk.Event{Type: zk.EventNodeCreated, Path: p.path}
			return nil, retryCh, nil
		}
		return nil, existsCh, nil
	} else if err != nil {
		return nil, nil, err
	}

	snap, err := p.decode(data, stat)
	if err != nil {
		p.logger.Warn("ignoring undecodable crush map update",
			zap.Int64("mzxid", stat.Mzxid),
			zap.Error(err))
		return nil, eventCh, nil
	}

	return snap, eventCh, nil
}

func (p *ZkProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	firstSnap, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan *Snapshot, 1)
	outputCh <- firstSnap

	go func() {
		defer close(outputCh)

		b := p.newBackOff()
		b.Reset()

		for {
			snap, eventCh, err := p.getW()
			if err != nil {
				p.logger.Warn("failed to watch zookeeper node",
					zap.String("path", p.path),
					zap.Error(err))

				select {
				case <-time.After(b.NextBackOff()):
					continue
				case <-ctx.Done():
					return
				}
			}
			b.Reset()

			if snap != nil {
				if !sendSnapshot(ctx, outputCh, snap) {
					return
				}
			}

			select {
			case event := <-eventCh:
				if event.Err != nil {
					p.logger.Debug("zookeeper watch interrupted",
						zap.String("path", p.path),
						zap.Error(event.Err))
				} else if event.Type == zk.EventNodeDeleted {
					p.logger.Warn("crush map node deleted, keeping the last loaded map",
						zap.String("path", p.path))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}
