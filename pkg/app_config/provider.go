package app_config

import (
	"time"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/couchbase/crushmap/common/mapsource"
	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

var ErrUnknownSource = errors.New("unknown crush map source")

func (c *Config) encoding() (mapsource.Encoding, error) {
	enc := mapsource.Encoding{
		Format:     crushmap.FormatJSON,
		Compressed: c.Compressed,
	}

	if c.Format != "" {
		format, err := crushmap.ParseFormat(c.Format)
		if err != nil {
			return mapsource.Encoding{}, err
		}
		enc.Format = format
	}

	return enc, nil
}

// NewProvider connects to the configured map source.  The returned close
// function releases any connection the provider holds.
func (c *Config) NewProvider(logger *zap.Logger) (mapsource.Provider, func(), error) {
	logger = logger.Named("mapsource")

	switch c.Source {
	case SourceFile:
		opts := mapsource.FileProviderOptions{
			Logger: logger,
			Path:   c.MapPath,
		}
		if c.Format != "" {
			enc, err := c.encoding()
			if err != nil {
				return nil, nil, err
			}
			opts.Encoding = &enc
		}

		p, err := mapsource.NewFileProvider(opts)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil

	case SourceEtcd:
		enc, err := c.encoding()
		if err != nil {
			return nil, nil, err
		}

		client, err := etcd.New(etcd.Config{
			Endpoints:   c.EtcdEndpoints,
			DialTimeout: c.EtcdDialTimeout,
			Logger:      logger.Named("etcd"),
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect to etcd")
		}

		p, err := mapsource.NewEtcdProvider(mapsource.EtcdProviderOptions{
			Logger:     logger,
			EtcdClient: client,
			Key:        c.EtcdKey,
			Encoding:   enc,
		})
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return p, func() { _ = client.Close() }, nil

	case SourceZookeeper:
		enc, err := c.encoding()
		if err != nil {
			return nil, nil, err
		}

		sessionTimeout := c.ZkSessionTimeout
		if sessionTimeout <= 0 {
			sessionTimeout = 10 * time.Second
		}

		conn, _, err := zk.Connect(c.ZkServers, sessionTimeout, zk.WithLogInfo(false))
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect to zookeeper")
		}

		p, err := mapsource.NewZkProvider(mapsource.ZkProviderOptions{
			Logger:   logger,
			Conn:     conn,
			Path:     c.ZkPath,
			Encoding: enc,
		})
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return p, conn.Close, nil
	}

	return nil, nil, errors.Wrapf(ErrUnknownSource, "%q", c.Source)
}
