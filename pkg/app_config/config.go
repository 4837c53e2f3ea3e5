/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package app_config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const EnvPrefix = "crush"

const (
	SourceFile      = "file"
	SourceEtcd      = "etcd"
	SourceZookeeper = "zk"
)

// ConfigFlags returns the flags which may also be supplied through the
// environment (CRUSH_ prefix) or a config file.
func ConfigFlags() *pflag.FlagSet {
	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("source", SourceFile, "where to load the crush map from (file, etcd or zk)")
	configFlags.String("map", "crushmap.json", "path of the crush map document when source is file")
	configFlags.String("format", "", "document format (json or yaml), defaults to the file extension or json")
	configFlags.Bool("compressed", false, "the stored document is snappy compressed")
	configFlags.String("etcd-endpoints", "localhost:2379", "comma separated etcd endpoints")
	configFlags.String("etcd-key", "/crushmap/map", "etcd key holding the crush map")
	configFlags.Duration("etcd-dial-timeout", 5*time.Second, "timeout when connecting to etcd")
	configFlags.String("zk-servers", "localhost:2181", "comma separated zookeeper servers")
	configFlags.String("zk-path", "/crushmap/map", "zookeeper node holding the crush map")
	configFlags.Duration("zk-session-timeout", 10*time.Second, "zookeeper session timeout")
	configFlags.Bool("strict", true, "reject crush maps with dangling references or cycles")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9091, "the web api/metrics/health port")
	configFlags.String("cors-origins", "", "comma separated origins allowed to call the web api")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("trace-everything", false, "sample every resolution trace")
	return configFlags
}

// BindConfig wires flags and the environment into v.
func BindConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	return v.BindPFlags(flags)
}

type Config struct {
	LogLevelStr      string
	Source           string
	MapPath          string
	Format           string
	Compressed       bool
	EtcdEndpoints    []string
	EtcdKey          string
	EtcdDialTimeout  time.Duration
	ZkServers        []string
	ZkPath           string
	ZkSessionTimeout time.Duration
	Strict           bool
	BindAddress      string
	WebPort          int
	CorsOrigins      []string
	OtlpEndpoint     string
	TraceEverything  bool
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func ReadConfig(v *viper.Viper, logger *zap.Logger) *Config {
	config := &Config{
		LogLevelStr:      v.GetString("log-level"),
		Source:           strings.ToLower(v.GetString("source")),
		MapPath:          v.GetString("map"),
		Format:           v.GetString("format"),
		Compressed:       v.GetBool("compressed"),
		EtcdEndpoints:    splitList(v.GetString("etcd-endpoints")),
		EtcdKey:          v.GetString("etcd-key"),
		EtcdDialTimeout:  v.GetDuration("etcd-dial-timeout"),
		ZkServers:        splitList(v.GetString("zk-servers")),
		ZkPath:           v.GetString("zk-path"),
		ZkSessionTimeout: v.GetDuration("zk-session-timeout"),
		Strict:           v.GetBool("strict"),
		BindAddress:      v.GetString("bind-address"),
		WebPort:          v.GetInt("web-port"),
		CorsOrigins:      splitList(v.GetString("cors-origins")),
		OtlpEndpoint:     v.GetString("otlp-endpoint"),
		TraceEverything:  v.GetBool("trace-everything"),
	}

	logger.Info("parsed crushmap configuration",
		zap.String("logLevelStr", config.LogLevelStr),
		zap.String("source", config.Source),
		zap.String("mapPath", config.MapPath),
		zap.String("format", config.Format),
		zap.Bool("compressed", config.Compressed),
		zap.Strings("etcdEndpoints", config.EtcdEndpoints),
		zap.String("etcdKey", config.EtcdKey),
		zap.Duration("etcdDialTimeout", config.EtcdDialTimeout),
		zap.Strings("zkServers", config.ZkServers),
		zap.String("zkPath", config.ZkPath),
		zap.Duration("zkSessionTimeout", config.ZkSessionTimeout),
		zap.Bool("strict", config.Strict),
		zap.String("bindAddress", config.BindAddress),
		zap.Int("webPort", config.WebPort),
		zap.Strings("corsOrigins", config.CorsOrigins),
		zap.String("otlpEndpoint", config.OtlpEndpoint),
		zap.Bool("traceEverything", config.TraceEverything))

	return config
}

// RestartRequired lists the settings which differ from old and which only
// take effect after a restart.
func (c *Config) RestartRequired(old *Config) []string {
	var changed []string
	if c.Source != old.Source || c.MapPath != old.MapPath ||
		c.Format != old.Format || c.Compressed != old.Compressed {
		changed = append(changed, "source")
	}
	if strings.Join(c.EtcdEndpoints, ",") != strings.Join(old.EtcdEndpoints, ",") ||
		c.EtcdKey != old.EtcdKey || c.EtcdDialTimeout != old.EtcdDialTimeout {
		changed = append(changed, "etcd")
	}
	if strings.Join(c.ZkServers, ",") != strings.Join(old.ZkServers, ",") ||
		c.ZkPath != old.ZkPath || c.ZkSessionTimeout != old.ZkSessionTimeout {
		changed = append(changed, "zk")
	}
	if c.Strict != old.Strict {
		changed = append(changed, "strict")
	}
	if c.BindAddress != old.BindAddress || c.WebPort != old.WebPort ||
		strings.Join(c.CorsOrigins, ",") != strings.Join(old.CorsOrigins, ",") {
		changed = append(changed, "web")
	}
	if c.OtlpEndpoint != old.OtlpEndpoint || c.TraceEverything != old.TraceEverything {
		changed = append(changed, "telemetry")
	}
	return changed
}

// NewLogger builds the JSON logger used by every command.  The returned
// level can be changed at runtime.
func NewLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stderr), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

// ApplyLogLevel parses levelStr into logLevel, falling back to INFO.
func ApplyLogLevel(logger *zap.Logger, logLevel zap.AtomicLevel, levelStr string) {
	parsedLogLevel, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead",
			zap.String("level", levelStr))
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)
}
