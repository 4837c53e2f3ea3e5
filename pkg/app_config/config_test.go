package app_config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchbase/crushmap/common/mapsource"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newTestViper(t *testing.T, args ...string) *viper.Viper {
	v := viper.New()
	flags := ConfigFlags()
	require.NoError(t, flags.Parse(args))
	require.NoError(t, BindConfig(v, flags))
	return v
}

func TestReadConfigDefaults(t *testing.T) {
	config := ReadConfig(newTestViper(t), zap.NewNop())

	assert.Equal(t, "info", config.LogLevelStr)
	assert.Equal(t, SourceFile, config.Source)
	assert.Equal(t, []string{"localhost:2379"}, config.EtcdEndpoints)
	assert.Equal(t, 5*time.Second, config.EtcdDialTimeout)
	assert.True(t, config.Strict)
	assert.Equal(t, 9091, config.WebPort)
	assert.Empty(t, config.CorsOrigins)
}

func TestReadConfigFlagsAndEnv(t *testing.T) {
	t.Setenv("CRUSH_ZK_PATH", "/from/env")
	t.Setenv("CRUSH_WEB_PORT", "8080")

	v := newTestViper(t,
		"--source=ZK",
		"--zk-servers=zk1:2181, zk2:2181,,",
		"--strict=false",
		"--cors-origins=https://a.example,https://b.example")
	config := ReadConfig(v, zap.NewNop())

	assert.Equal(t, SourceZookeeper, config.Source)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, config.ZkServers)
	assert.Equal(t, "/from/env", config.ZkPath)
	assert.Equal(t, 8080, config.WebPort)
	assert.False(t, config.Strict)
	assert.Len(t, config.CorsOrigins, 2)
}

func TestReadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crushmap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log-level: debug\nmap: /etc/ceph/crush.yaml\n"), 0o644))

	v := newTestViper(t)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	config := ReadConfig(v, zap.NewNop())
	assert.Equal(t, "debug", config.LogLevelStr)
	assert.Equal(t, "/etc/ceph/crush.yaml", config.MapPath)
}

func TestRestartRequired(t *testing.T) {
	old := ReadConfig(newTestViper(t), zap.NewNop())

	same := *old
	same.LogLevelStr = "debug"
	assert.Empty(t, same.RestartRequired(old))

	changed := *old
	changed.WebPort = 1234
	changed.EtcdKey = "/elsewhere"
	assert.Equal(t, []string{"etcd", "web"}, changed.RestartRequired(old))
}

func TestApplyLogLevel(t *testing.T) {
	logLevel, logger := NewLogger()

	ApplyLogLevel(logger, logLevel, "warn")
	assert.Equal(t, zapcore.WarnLevel, logLevel.Level())

	ApplyLogLevel(logger, logLevel, "chatty")
	assert.Equal(t, zapcore.InfoLevel, logLevel.Level())
}

func TestNewProvider(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		config := ReadConfig(newTestViper(t, "--map=/tmp/crush.yaml.sz"), zap.NewNop())

		p, closeFn, err := config.NewProvider(zap.NewNop())
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &mapsource.FileProvider{}, p)
	})

	t.Run("FileExplicitFormat", func(t *testing.T) {
		config := ReadConfig(newTestViper(t, "--map=/tmp/crush.dump", "--format=yaml"), zap.NewNop())

		_, closeFn, err := config.NewProvider(zap.NewNop())
		require.NoError(t, err)
		closeFn()
	})

	t.Run("BadFormat", func(t *testing.T) {
		config := ReadConfig(newTestViper(t, "--source=etcd", "--format=toml"), zap.NewNop())

		_, _, err := config.NewProvider(zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("UnknownSource", func(t *testing.T) {
		config := ReadConfig(newTestViper(t, "--source=consul"), zap.NewNop())

		_, _, err := config.NewProvider(zap.NewNop())
		assert.ErrorIs(t, err, ErrUnknownSource)
	})
}
