/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/couchbase/crushmap/crushd"
	"github.com/couchbase/crushmap/pkg/app_config"
	"github.com/couchbase/crushmap/pkg/webapi"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

var watchCfgFile bool

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves crush rule resolutions over http, following map updates",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")
}

func runServer() error {
	logLevel, logger, config, err := setup()
	if err != nil {
		return err
	}

	logger.Info("starting crushmap server",
		zap.String("version", rootCmd.Version),
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile))

	tracerProvider, meterProvider, err := initTelemetry(
		context.Background(),
		logger,
		config.OtlpEndpoint,
		config.TraceEverything)
	if err != nil {
		logger.Error("failed to initialize opentelemetry", zap.Error(err))
		return err
	}

	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	otel.SetMeterProvider(meterProvider)

	provider, closeProvider, err := config.NewProvider(logger)
	if err != nil {
		logger.Error("failed to create the crush map provider", zap.Error(err))
		return err
	}
	defer closeProvider()

	sys, err := crushd.NewSystem(&crushd.SystemOptions{
		Logger:   logger.Named("crushd"),
		Provider: provider,
		Strict:   config.Strict,
	})
	if err != nil {
		return err
	}

	webServer := webapi.NewWebServer(webapi.WebServerOptions{
		Logger:         logger.Named("webapi"),
		LogLevel:       &logLevel,
		ListenAddress:  fmt.Sprintf("%s:%v", config.BindAddress, config.WebPort),
		System:         sys,
		AllowedOrigins: config.CorsOrigins,
	})

	webErrCh := make(chan error, 1)
	go func() {
		webErrCh <- webServer.ListenAndServe()
	}()

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		if cfgFile != "" {
			err := viper.ReadInConfig()
			if err != nil {
				logger.Warn("failed to parse configuration file", zap.Error(err))
			}
		}

		newConfig := app_config.ReadConfig(viper.GetViper(), logger)

		changed := newConfig.RestartRequired(config)
		if len(changed) > 0 {
			logger.Warn("config changes require a restart",
				zap.String("settings", strings.Join(changed, ", ")))
		}

		if newConfig.LogLevelStr != config.LogLevelStr {
			app_config.ApplyLogLevel(logger, logLevel, newConfig.LogLevelStr)
			logger.Info("updated log level",
				zap.String("newLevel", logLevel.Level().String()))
		}

		config = newConfig
	}

	if watchCfgFile && cfgFile != "" {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					cancel()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				cancel()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	go func() {
		err := <-webErrCh
		if err != nil {
			logger.Error("web server failed", zap.Error(err))
			cancel()
		}
	}()

	runErr := sys.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err = webServer.Shutdown(shutdownCtx)
	if err != nil {
		logger.Warn("failed to shutdown the web server cleanly", zap.Error(err))
	}

	if tracerProvider != nil {
		_ = tracerProvider.Shutdown(shutdownCtx)
	}
	_ = meterProvider.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("failed to run the crush map system", zap.Error(runErr))
		return runErr
	}

	logger.Info("crushmap server shutdown gracefully")
	return nil
}
