package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/inquestai/inquest/config"
	"github.com/inquestai/inquest/internal/dispatch"
	"github.com/inquestai/inquest/internal/queue/streams"
	"github.com/inquestai/inquest/internal/relay"
	"github.com/inquestai/inquest/internal/runtime"
	"github.com/inquestai/inquest/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the research HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.LLM.Validate(); err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			logger := log.New(log.Writer(), "[SERVE] ", log.LstdFlags)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := runtime.OpenStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			archive, err := runtime.OpenArchive(cfg, store, logger)
			if err != nil {
				return err
			}
			defer archive.Close()
			if err := archive.Sync(ctx); err != nil {
				logger.Printf("history sync: %v", err)
			}

			var (
				dispatcher dispatch.Dispatcher
				subscriber relay.Subscriber
			)
			switch cfg.Dispatch.Mode {
			case config.DispatchRedis:
				rdb, err := runtime.OpenRedis(ctx, cfg.Storage.Redis)
				if err != nil {
					return err
				}
				defer rdb.Close()
				registry, err := streams.NewSchemaRegistry()
				if err != nil {
					return err
				}
				rl := relay.NewRedisRelay(rdb)
				dispatcher = dispatch.NewRedis(store, streams.NewPublisher(rdb, registry), rl, logger)
				subscriber = rl
			default:
				broker := relay.NewBroker(0)
				engine := runtime.BuildEngine(cfg, store, broker, logger)
				local := dispatch.NewLocal(engine, store, logger)
				local.DefaultIterations = cfg.Research.MaxIterations
				defer local.Wait()
				dispatcher = local
				subscriber = broker
			}

			srv := server.New(&server.Server{
				Dispatcher: dispatcher,
				Subscriber: subscriber,
				Store:      store,
				Archive:    archive,
				JWTSecret:  []byte(cfg.Server.JWTSecret),
			})

			errCh := make(chan error, 1)
			go func() {
				logger.Printf("listening on %s (dispatch=%s)", cfg.Server.Address, cfg.Dispatch.Mode)
				errCh <- srv.Start(cfg.Server.Address)
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}
