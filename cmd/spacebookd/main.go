package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/spacebook/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/spacebook/internal/httpapi"
	"github.com/MarkoPoloResearchLab/spacebook/internal/metrics"
	"github.com/MarkoPoloResearchLab/spacebook/internal/notify"
	"github.com/MarkoPoloResearchLab/spacebook/internal/oplog"
	"github.com/MarkoPoloResearchLab/spacebook/internal/scheduler"
	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "spacebookd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "spacebookd",
		Short:         "Room and seat reservation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	registerFlags(cmd)
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		settings, err := newSettings(cmd)
		if err != nil {
			return err
		}
		return loadConfig(settings, cfg)
	}

	cmd.AddCommand(newMigrateCommand(cfg), newHolderCommand(cfg), newResourceCommand(cfg))
	return cmd
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newService(store booking.Store, cfg *runtimeConfig, operations booking.OperationLogger) (*booking.Service, error) {
	return booking.NewService(store, time.Now,
		booking.WithLocation(cfg.Location),
		booking.WithOperationLogger(operations),
	)
}

func newMetricsRegistry() (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	for _, collector := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	opened, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = opened.close() }()

	registry, err := newMetricsRegistry()
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	recorder, err := metrics.NewRecorder(registry, oplog.New(logger))
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	service, err := newService(opened.store, cfg, recorder)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}
	lifecycle, err := booking.NewLifecycle(cfg.Policy)
	if err != nil {
		return fmt.Errorf("lifecycle init: %w", err)
	}
	notifier, closeNotifier, err := buildNotifier(cfg, opened.store, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	driver, err := scheduler.New(opened.store, notifier, lifecycle, time.Now, logger, cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("scheduler init: %w", err)
	}
	if err := driver.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start: %w", err)
	}
	defer driver.Stop()

	httpOptions := []httpapi.Option{httpapi.WithMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = redisClient.Close() }()
		httpOptions = append(httpOptions, httpapi.WithRedis(redisClient, cfg.HTTP.RateLimit))
	}
	httpHandler, err := httpapi.NewHandler(cfg.HTTP, service, logger, httpOptions...)
	if err != nil {
		return fmt.Errorf("http api init: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(grpcserver.UnaryLoggingInterceptor(logger)))
	grpcserver.Register(grpcServer, grpcserver.NewReservationServiceServer(service))

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()
	httpCtx, cancelHTTP := context.WithCancel(ctx)
	defer cancelHTTP()
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpapi.Run(httpCtx, cfg.HTTP, httpHandler, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		if serveErr := <-grpcErrCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return <-httpErrCh
	case serveErr := <-grpcErrCh:
		cancelHTTP()
		<-httpErrCh
		if errors.Is(serveErr, grpc.ErrServerStopped) {
			return nil
		}
		return serveErr
	case httpErr := <-httpErrCh:
		grpcServer.GracefulStop()
		<-grpcErrCh
		return httpErr
	}
}

// buildNotifier fans out to every configured sink and falls back to logging
// when none is configured.
func buildNotifier(cfg *runtimeConfig, store booking.Store, logger *zap.Logger) (booking.Notifier, func(), error) {
	var sinks []booking.Notifier
	closers := []func(){}
	closeAll := func() {
		for _, closer := range closers {
			closer()
		}
	}
	if cfg.TelegramToken != "" {
		telegram, err := notify.NewTelegramNotifier(cfg.TelegramToken, store, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("telegram notifier: %w", err)
		}
		sinks = append(sinks, telegram)
	}
	if cfg.AMQPURL != "" {
		publisher, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("amqp publisher: %w", err)
		}
		closers = append(closers, func() { _ = publisher.Close() })
		sinks = append(sinks, publisher)
	}
	if len(sinks) == 0 {
		logger.Warn("no notification sink configured; notifications are only logged")
		sinks = append(sinks, notify.NewLogNotifier(logger))
	}
	return notify.NewMulti(sinks...), closeAll, nil
}
