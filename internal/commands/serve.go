package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/sync/errgroup"

	"github.com/gangplank-systems/gangplank/internal/config"
	"github.com/gangplank-systems/gangplank/internal/metrics"
	"github.com/gangplank-systems/gangplank/internal/notify"
	"github.com/gangplank-systems/gangplank/internal/pipeline"
	"github.com/gangplank-systems/gangplank/internal/server"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the Gangplank HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(".")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := newStore(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	logger := slog.Default()

	dispatcher, err := notify.NewDispatcher(cfg.Notifiers, logger)
	if err != nil {
		return fmt.Errorf("creating notification dispatcher: %w", err)
	}

	mx, meterShutdown, err := newMetrics(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	machine := pipeline.New(cfg, st, dispatcher,
		pipeline.WithLogger(logger), pipeline.WithMetrics(mx))
	manager := pipeline.NewManager(machine, pipeline.WithManagerLogger(logger))
	if err := manager.Adopt(ctx); err != nil {
		return fmt.Errorf("adopting sessions: %w", err)
	}

	serverCfg := &types.ServerConfig{Addr: ":8080"}
	if cfg.Server != nil {
		serverCfg = cfg.Server
		if serverCfg.Addr == "" {
			serverCfg.Addr = ":8080"
		}
	}
	srv := server.New(serverCfg, manager, st)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-gctx.Done():
		return g.Wait()
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		if err := manager.Close(); err != nil {
			logger.Error("manager shutdown", "error", err)
		}
		if meterShutdown != nil {
			if err := meterShutdown(shutdownCtx); err != nil {
				logger.Error("metrics shutdown", "error", err)
			}
		}
		_ = st.Stop(shutdownCtx)
		_ = g.Wait()
		color.Green("Server stopped gracefully")
		return nil
	}
}

// newMetrics builds the OTLP-backed aggregator, or a noop one when metrics
// are disabled.
func newMetrics(ctx context.Context, cfg *types.MetricsConfig) (*metrics.Metrics, func(context.Context) error, error) {
	if cfg == nil || !cfg.Enabled {
		return metrics.NewNoop(), nil, nil
	}

	var opts []otlpmetricgrpc.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint), otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	interval := 30 * time.Second
	if cfg.Interval != "" {
		if d, err := time.ParseDuration(cfg.Interval); err == nil && d > 0 {
			interval = d
		}
	}
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName("gangplank"))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	mx, err := metrics.New(provider.Meter("gangplank"))
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, nil, err
	}
	return mx, provider.Shutdown, nil
}
