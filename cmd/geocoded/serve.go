package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"geocode_gateway/internal/api"
	"geocode_gateway/internal/config"
	"geocode_gateway/internal/limits"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/rpc"
	"geocode_gateway/internal/runtime"
	"geocode_gateway/internal/server"
	"geocode_gateway/internal/transport"
)

type ServeCmd struct {
	root *Options
}

func (c *ServeCmd) Execute(_ []string) error {
	cfg, err := loadConfig(c.root.Config)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, nil)
}

// serve runs until ctx ends or a listener fails. ready, when set, receives
// the started server so callers can learn the bound addresses.
func serve(ctx context.Context, cfg *config.Config, ready func(*server.Server)) error {
	limitConfig, err := limits.FromConfig(cfg.Limits)
	if err != nil {
		return err
	}
	shutdownConfig, err := runtime.ShutdownFromConfig(cfg.Shutdown)
	if err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	coalescer, upstreamTransport, err := newCoalescer(cfg, metrics)
	if err != nil {
		return err
	}
	inflight := runtime.NewInflightTracker()

	handler := api.NewHandler(coalescer, api.Options{
		Metrics:       metrics,
		MetricsToken:  config.MetricsToken(cfg),
		Inflight:      inflight,
		MaxQueryBytes: limitConfig.MaxQueryBytes,
		AccessLog:     !cfg.Logging.DisableAccessLog,
	})
	service := rpc.NewService(coalescer, rpc.Options{
		Metrics:         metrics,
		Inflight:        inflight,
		MaxMessageBytes: limitConfig.MaxGRPCMessageBytes,
		AccessLog:       !cfg.Logging.DisableAccessLog,
	})

	srv, err := server.Start(handler, service.Server(), cfg.ListenAddr, cfg.GRPCAddr, server.Options{
		Limits:   limitConfig,
		Shutdown: shutdownConfig,
		Inflight: inflight,
		Stoppers: []server.Stopper{
			coalescer,
			server.StopFunc(func(context.Context) error {
				transport.CloseIdle(upstreamTransport)
				return nil
			}),
		},
	})
	if err != nil {
		_ = coalescer.Close()
		return err
	}
	if srv.HTTPAddr != "" {
		log.Printf("listening on http://%s", srv.HTTPAddr)
	}
	if srv.GRPCAddr != "" {
		log.Printf("listening on grpc://%s", srv.GRPCAddr)
	}
	if ready != nil {
		ready(srv)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Wait(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Printf("shutting down, budget %s", shutdownConfig.Budget())
		_ = service.Stop(context.Background())
		return srv.Shutdown()
	})
	return group.Wait()
}
