/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// This file is to handle things such as metrics/health/log levels, etc

package webapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/couchbase/crushmap/crushd"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

type WebServerOptions struct {
	Logger        *zap.Logger
	LogLevel      *zap.AtomicLevel
	ListenAddress string
	System        *crushd.System

	// AllowedOrigins restricts cross-origin requests, empty allows any.
	AllowedOrigins []string
}

type WebServer struct {
	logger         *zap.Logger
	logLevel       *zap.AtomicLevel
	listenAddress  string
	system         *crushd.System
	allowedOrigins []string
	httpServer     *http.Server
}

func NewWebServer(opts WebServerOptions) *WebServer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &WebServer{
		logger:         logger,
		logLevel:       opts.LogLevel,
		listenAddress:  opts.ListenAddress,
		system:         opts.System,
		allowedOrigins: opts.AllowedOrigins,
	}
	w.httpServer = &http.Server{
		Handler:      w.Handler(),
		Addr:         w.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return w
}

func (w *WebServer) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(200)
	_, err := rw.Write([]byte("Welcome to the crushmap internal webapi"))
	if err != nil {
		w.logger.Debug("failed to write generic root response", zap.Error(err))
	}
}

func (w *WebServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		rw.Header().Set(requestIDHeader, requestID)

		stime := time.Now()
		next.ServeHTTP(rw, r)

		w.logger.Debug("handled web request",
			zap.String("requestId", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(stime)))
	})
}

// Handler builds the complete request handler of the web api.
func (w *WebServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(w.requestIDMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", w.handleHealth).Methods(http.MethodGet)
	if w.logLevel != nil {
		// zap.AtomicLevel serves GET and PUT of {"level": "..."}
		r.Handle("/log-level", w.logLevel).Methods(http.MethodGet, http.MethodPut)
	}
	r.HandleFunc("/", w.handleRoot)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/tunables", w.handleTunables).Methods(http.MethodGet)
	v1.HandleFunc("/tunables/{name}", w.handleTunable).Methods(http.MethodGet)
	v1.HandleFunc("/types", w.handleTypes).Methods(http.MethodGet)
	v1.HandleFunc("/devices", w.handleDevices).Methods(http.MethodGet)
	v1.HandleFunc("/buckets", w.handleBuckets).Methods(http.MethodGet)
	v1.HandleFunc("/buckets/{ref}/devices", w.handleBucketDevices).Methods(http.MethodGet)
	v1.HandleFunc("/rules", w.handleRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{name}/storage-groups", w.handleRuleStorageGroups).Methods(http.MethodGet)
	v1.HandleFunc("/storage-groups", w.handleAllStorageGroups).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: w.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut},
		ExposedHeaders: []string{requestIDHeader},
	}).Handler(r)

	return otelhttp.NewHandler(corsHandler, "crushmap-webapi")
}

func (w *WebServer) ListenAndServe() error {
	err := w.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (w *WebServer) Shutdown(ctx context.Context) error {
	return w.httpServer.Shutdown(ctx)
}
