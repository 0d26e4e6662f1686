// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-blob-service serves a filesystem blob store over a Unix
// socket. Agents on the same machine reach it through storage.Client.
// It is the store used in development and integration tests; a
// production farm points agents at its shared storage service instead.
//
// With --job-socket it also serves a development job service that
// accepts artifact registrations and logs them. Registrations are kept
// in memory, or in a SQLite database when --job-db is set.
//
// --metrics-address exposes Prometheus request counters and latency
// histograms for both sockets over HTTP. --log-file writes the JSON log
// to a rotated file instead of stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/buildagent/lib/clock"
	"github.com/bureau-foundation/buildagent/lib/jobapi"
	"github.com/bureau-foundation/buildagent/lib/process"
	"github.com/bureau-foundation/buildagent/lib/service"
	"github.com/bureau-foundation/buildagent/lib/storage"
	"github.com/bureau-foundation/buildagent/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		showVersion bool
		storeDir    string
		socketPath  string
		jobSocket   string
		jobDatabase string
		metricsAddr string
		logFile     string
	)
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.StringVar(&storeDir, "store-dir", "", "blob store root directory (required)")
	flag.StringVar(&socketPath, "socket", "/run/bureau/blob.sock", "Unix socket to serve the blob store on")
	flag.StringVar(&jobSocket, "job-socket", "", "Unix socket for a development job service (optional)")
	flag.StringVar(&jobDatabase, "job-db", "", "SQLite database persisting job service registrations (optional)")
	flag.StringVar(&metricsAddr, "metrics-address", "", "HTTP address serving Prometheus metrics, e.g. 127.0.0.1:9464 (optional)")
	flag.StringVar(&logFile, "log-file", "", "write logs to this rotated file instead of stderr (optional)")
	flag.Parse()

	if showVersion {
		version.Print("bureau-blob-service")
		return nil
	}
	if storeDir == "" {
		return fmt.Errorf("--store-dir is required")
	}

	var logger *slog.Logger
	if logFile != "" {
		fileLogger, closer := service.NewFileLogger(service.LogFile{Path: logFile, Compress: true})
		defer closer.Close()
		logger = fileLogger
	} else {
		logger = service.NewLogger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewDirectoryStore(storeDir, clock.Real())
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}

	blobServer := service.NewSocketServer(socketPath, logger)
	blobServer.SetMetrics(service.NewMetrics(registry, "blob"))
	storage.RegisterHandlers(blobServer, store)

	var registrar jobapi.Registrar = &jobapi.MemoryRegistrar{}
	if jobSocket != "" && jobDatabase != "" {
		database, err := jobapi.OpenSQLiteRegistrar(jobDatabase, clock.Real(), logger)
		if err != nil {
			return fmt.Errorf("opening job database: %w", err)
		}
		defer database.Close()
		registrar = database
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return blobServer.Serve(groupCtx)
	})

	if jobSocket != "" {
		jobServer := service.NewSocketServer(jobSocket, logger)
		jobServer.SetMetrics(service.NewMetrics(registry, "jobs"))
		jobapi.RegisterHandlers(jobServer, &loggingRegistrar{inner: registrar, logger: logger})
		group.Go(func() error {
			return jobServer.Serve(groupCtx)
		})
	}

	if metricsAddr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, metricsAddr, registry, logger)
		})
	}

	logger.Info("blob service running",
		"store_dir", store.Root(),
		"socket", socketPath,
		"job_socket", jobSocket,
		"metrics_address", metricsAddr,
		"version", version.Info(),
	)

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("blob service stopped")
	return nil
}

// serveMetrics serves the registry at /metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving metrics on %s: %w", address, err)
	}
	return nil
}

// loggingRegistrar logs each registration accepted by inner.
type loggingRegistrar struct {
	inner  jobapi.Registrar
	logger *slog.Logger
}

func (r *loggingRegistrar) RegisterArtifact(ctx context.Context, registration jobapi.ArtifactRegistration) (string, error) {
	id, err := r.inner.RegisterArtifact(ctx, registration)
	if err != nil {
		return "", err
	}
	r.logger.Info("artifact registered",
		"artifact_id", id,
		"job_id", registration.JobID,
		"step_id", registration.StepID,
		"type", registration.Type,
		"namespace", string(registration.Namespace),
		"ref", string(registration.RefName),
	)
	return id, nil
}
