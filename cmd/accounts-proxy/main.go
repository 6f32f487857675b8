// Command accounts-proxy serves Compute Accounts lookups over a local
// Unix domain socket, backed by the GCE Compute Accounts API.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/accountscache"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/accountsclient"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/config"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/dispatcher"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/gcpmetadata"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/proxyserver"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/refresher"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/internal/telemetry"
	"github.com/GoogleCloudPlatform/compute-accounts-proxy/pkg/logger"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	entry := log.WithField("service", "accounts-proxy")

	metrics := telemetry.New()

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				entry.WithError(err).Error("metrics listener failed")
			}
		}()
	}

	metadataClient := gcpmetadata.New()
	apiClient := accountsclient.New(accountsclient.Config{
		APIRoot:                   cfg.APIRoot,
		ComputeAccountsAPIVersion: cfg.ComputeAccountsAPIVersion,
		ComputeAPIVersion:         cfg.ComputeAPIVersion,
	}, metadataClient, nil, entry)

	cache := accountscache.New()
	refresh := refresher.New(cache, apiClient, entry, metrics)
	dispatch := dispatcher.New(cache, apiClient, entry, metrics)
	server := proxyserver.New(cfg.SocketPath, dispatch, refresh, entry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		entry.Info("received shutdown signal")
		if err := server.Shutdown(); err != nil {
			entry.WithError(err).Error("error during shutdown")
		}
	}()

	if err := server.Start(ctx); err != nil {
		entry.WithError(err).Fatal("accounts proxy server failed")
	}
	entry.Info("accounts proxy server stopped")
}
