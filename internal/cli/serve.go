package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Proxy an origin through the current cache generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openStore(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer func() {
				if err := closeStore(); err != nil {
					logger.Error("closing store", "error", err)
				}
			}()

			writeTimeout, _ := cfg.GetWriteTimeout()
			workerCfg := netfirstcache.Config{
				Generation:   cfg.Generation,
				Methods:      cfg.Fetch.Methods,
				WriteTimeout: writeTimeout,
			}

			controller := netfirstcache.NewController(http.DefaultTransport, logger)
			worker, err := netfirstcache.NewWorker(store, workerCfg, http.DefaultTransport, logger)
			if err != nil {
				return err
			}
			if err := controller.Register(ctx, worker); err != nil {
				return err
			}

			origin, _ := url.Parse(cfg.Origin)
			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:           server.New(controller, store, origin, logger).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}

			logger.Info("serving", "addr", srv.Addr, "origin", cfg.Origin, "generation", cfg.Generation, "store", cfg.Store.Driver)
			return runServer(ctx, srv, ln, controller, logger)
		},
	}

	cmd.Flags().StringVar(&opts.origin, "origin", "", "origin URL to proxy, e.g. http://localhost:3000")
	cmd.Flags().IntVar(&opts.port, "port", 0, "port to listen on")

	return cmd
}

// runServer serves on ln until ctx is done. It returns only after Shutdown has
// drained in-flight requests and their snapshot writes have landed, so the
// store can be closed afterwards.
func runServer(ctx context.Context, srv *http.Server, ln net.Listener, controller *netfirstcache.Controller, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	cancel()
	<-done

	controller.Wait()
	return err
}
