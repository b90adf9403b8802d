package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/inquestai/inquest/config"
	"github.com/inquestai/inquest/internal/queue/streams"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/internal/runtime"
	"github.com/inquestai/inquest/internal/worker"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var name string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a durable queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.LLM.Validate(); err != nil {
				return err
			}
			if err := cfg.Storage.Redis.Validate(); err != nil {
				return err
			}
			logger := log.New(log.Writer(), "[WORKER] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := runtime.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			rdb, err := runtime.OpenRedis(ctx, cfg.Storage.Redis)
			if err != nil {
				return err
			}
			defer rdb.Close()

			if err := streams.EnsureGroup(ctx, rdb, streams.StreamResearchJobs, streams.GroupWorkers); err != nil {
				return err
			}
			registry, err := streams.NewSchemaRegistry()
			if err != nil {
				return err
			}
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
			}
			consumer := streams.NewConsumer(rdb, registry, streams.GroupWorkers, name)

			engine := runtime.BuildEngine(cfg, store, relay.NewRedisRelay(rdb), logger)
			metrics := worker.NewMetrics(prometheus.DefaultRegisterer)
			proc := worker.NewProcessor(logger, engine, store, consumer, rdb, metrics)

			if cfg.Server.Metrics {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("ok"))
				})
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
						logger.Printf("metrics listener: %v", err)
					}
				}()
			}

			logger.Printf("consumer %s starting", name)
			return proc.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "consumer name (defaults to hostname plus a random suffix)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":10002", "metrics listen address")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}
