/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package mapsource

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdProviderOptions struct {
	Logger     *zap.Logger
	EtcdClient *etcd.Client
	Key        string
	Encoding   Encoding
}

// EtcdProvider reads a crush map stored under a single etcd key.  The
// snapshot revision is the ModRevision of the key.
type EtcdProvider struct {
	logger   *zap.Logger
	kv       etcd.KV
	watcher  etcd.Watcher
	key      string
	encoding Encoding

	newBackOff func() backoff.BackOff
}

var _ Provider = (*EtcdProvider)(nil)

func NewEtcdProvider(opts EtcdProviderOptions) (*EtcdProvider, error) {
	if opts.EtcdClient == nil {
		return nil, errors.New("an etcd client is required")
	}

	return newEtcdProvider(opts.Logger, opts.EtcdClient.KV, opts.EtcdClient.Watcher, opts.Key, opts.Encoding), nil
}

func newEtcdProvider(logger *zap.Logger, kv etcd.KV, watcher etcd.Watcher, key string, encoding Encoding) *EtcdProvider {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EtcdProvider{
		logger:   logger,
		kv:       kv,
		watcher:  watcher,
		key:      key,
		encoding: encoding,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
	}
}

func (p *EtcdProvider) source() string {
	return "etcd:" + p.key
}

func (p *EtcdProvider) decodeKv(kv *mvccpb.KeyValue) (*Snapshot, error) {
	m, err := p.encoding.Decode(kv.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode etcd key %s", p.key)
	}

	return &Snapshot{
		Revision: []uint64{uint64(kv.ModRevision)},
		Source:   p.source(),
		Map:      m,
	}, nil
}

// fetch returns the current document along with the store revision the
// read was served at, which is where a subsequent watch should resume.
func (p *EtcdProvider) fetch(ctx context.Context) (*Snapshot, int64, error) {
	resp, err := p.kv.Get(ctx, p.key)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read crush map from etcd")
	}

	if len(resp.Kvs) == 0 {
		return nil, resp.Header.Revision, errors.Wrapf(ErrNoDocument, "etcd key %s", p.key)
	}

	snap, err := p.decodeKv(resp.Kvs[0])
	if err != nil {
		return nil, resp.Header.Revision, err
	}

	return snap, resp.Header.Revision, nil
}

func (p *EtcdProvider) Get(ctx context.Context) (*Snapshot, error) {
	snap, _, err := p.fetch(ctx)
	return snap, err
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan *Snapshot, error) {
	firstSnap, watchRev, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan *Snapshot, 1)
	outputCh <- firstSnap

	go func() {
		defer close(outputCh)

		b := p.newBackOff()
		b.Reset()

		resync := false

	MainLoop:
		for {
			if resync {
				// after a broken watch we re-read the key, since compaction
				// may have removed the revisions we missed.  Consumers discard
				// the snapshot if it turns out we already delivered it.
				snap, headerRev, err := p.fetch(ctx)
				if err != nil {
					p.logger.Warn("failed to resync crush map from etcd", zap.Error(err))

					if headerRev == 0 {
						select {
						case <-time.After(b.NextBackOff()):
							continue
						case <-ctx.Done():
							break MainLoop
						}
					}
				}

				if snap != nil {
					if !sendSnapshot(ctx, outputCh, snap) {
						break MainLoop
					}
				}
				watchRev = headerRev
				resync = false
			}

			watchCtx, cancel := context.WithCancel(etcd.WithRequireLeader(ctx))
			watchCh := p.watcher.Watch(watchCtx, p.key, etcd.WithRev(watchRev+1))

			for watchResp := range watchCh {
				err := watchResp.Err()
				if err != nil {
					p.logger.Warn("etcd watch failed", zap.String("key", p.key), zap.Error(err))
					break
				}

				b.Reset()

				for _, watchEvt := range watchResp.Events {
					switch watchEvt.Type {
					case mvccpb.PUT:
						snap, err := p.decodeKv(watchEvt.Kv)
						if err != nil {
							p.logger.Warn("ignoring undecodable crush map update",
								zap.Int64("modRevision", watchEvt.Kv.ModRevision),
								zap.Error(err))
							continue
						}

						if !sendSnapshot(ctx, outputCh, snap) {
							cancel()
							break MainLoop
						}
					case mvccpb.DELETE:
						p.logger.Warn("crush map key deleted, keeping the last loaded map",
							zap.String("key", p.key))
					}
				}

				watchRev = watchResp.Header.Revision
			}
			cancel()

			if ctx.Err() != nil {
				break MainLoop
			}

			resync = true

			select {
			case <-time.After(b.NextBackOff()):
			case <-ctx.Done():
				break MainLoop
			}
		}
	}()

	return outputCh, nil
}
