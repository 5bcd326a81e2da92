package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rahul/cortex/internal/agent"
	"github.com/rahul/cortex/internal/gateway"
	"github.com/rahul/cortex/internal/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var noDashboard bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateways and the goal scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "disable the terminal status line")
}

func (a *app) serve(ctx context.Context) error {
	gateways, err := a.gateways()
	if err != nil {
		return err
	}
	router := gateway.NewRouter(gateways...)

	if !noDashboard {
		dash := observability.NewDashboard(a.status, os.Stdout)
		dash.PrintBanner()
		dash.Initialize()
		defer dash.Cleanup()
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					dash.PrintLiveStatus()
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Address,
			Handler:           a.metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("metrics server listening", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	scheduler := agent.NewScheduler(a.brain, a.store, router, a.logger, a.status, agent.DefaultPollInterval)
	g.Go(func() error {
		scheduler.Start(gctx)
		return nil
	})

	for _, gw := range gateways {
		g.Go(func() error {
			a.logger.Info("gateway starting", zap.String("gateway", gw.Name()))
			err := gw.Start(gctx)
			if stopErr := gw.Stop(); stopErr != nil {
				a.logger.Warn("gateway stop failed", zap.String("gateway", gw.Name()), zap.Error(stopErr))
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s gateway: %w", gw.Name(), err)
			}
			return nil
		})
	}

	a.logger.Info("cortex is running", zap.Int("gateways", len(gateways)))
	err = g.Wait()
	a.logger.Info("shutting down")
	return err
}

func (a *app) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	return mux
}

func (a *app) gateways() ([]gateway.Gateway, error) {
	var out []gateway.Gateway

	if gw, ok := a.cfg.GetGatewayConfig("telegram"); ok {
		tg, err := gateway.NewTelegramGateway(gw.Token, a.brain, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start telegram gateway: %w", err)
		}
		out = append(out, tg)
	}
	if gw, ok := a.cfg.GetGatewayConfig("discord"); ok {
		dg, err := gateway.NewDiscordGateway(gw.Token, a.brain, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start discord gateway: %w", err)
		}
		out = append(out, dg)
	}

	if len(out) == 0 {
		return nil, errors.New("no enabled gateway found in config")
	}
	return out, nil
}
