package commands

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/blockpack/blockpack/internal/config"
	"github.com/blockpack/blockpack/internal/logging"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve the Prometheus registry over HTTP",
	Long: `Serve-metrics exposes /metrics on metrics.addr, serving the
default Prometheus registry of its own process.

It runs as a separate process from "run". The blockpack_* pipeline
counters are registered only inside the "run" process, so this endpoint
does not expose them; it serves only what is registered in its own
process, such as the Go runtime and process collectors.`,
	RunE: runServeMetrics,
}

func runServeMetrics(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("serve-metrics: metrics.enabled is false in config")
	}

	logger, err := logging.New(cfg.Logging.Level, logging.Format(cfg.Logging.Format))
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.WithField("addr", cfg.Metrics.Addr).Info("serving metrics")
	return http.ListenAndServe(cfg.Metrics.Addr, mux)
}
