package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	jms "github.com/davideduma/commons-jms"
	"github.com/davideduma/commons-jms/broker"
	"github.com/davideduma/commons-jms/health"
	"github.com/davideduma/commons-jms/interceptors"
	"github.com/davideduma/commons-jms/listener"
	"github.com/davideduma/commons-jms/sender"
)

const replierName = "replier"

func newServeCmd(g *globals) *cobra.Command {
	var (
		queue       string
		concurrency int
		replicas    int
		prefix      string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer requests with an echo of their body",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			sink, reg, stopSink, err := g.healthSink()
			if err != nil {
				return err
			}
			defer stopSink()

			chain := interceptors.NewInterceptorChain(g.logger).
				Add(interceptors.NewLoggingInterceptor(g.logger))
			if reg != nil {
				collector, err := interceptors.NewPrometheusCollector(reg)
				if err != nil {
					return err
				}
				chain.Add(interceptors.NewMetricsInterceptor(collector))
			}
			if timeout > 0 {
				chain.Add(interceptors.NewTimeoutInterceptor(timeout))
			}

			factory, err := g.settings.ConnectionFactory(g.logger)
			if err != nil {
				return err
			}
			policy, err := g.settings.Reconnect.Policy()
			if err != nil {
				return err
			}

			client := jms.New(
				jms.WithDefaultConnectionFactory(factory),
				jms.WithLogger(g.logger),
				jms.WithHealthSink(sink),
				jms.WithReconnectPolicy(policy),
				jms.WithListenerPollTimeout(g.settings.Listener.PollTimeout),
				jms.WithDrainTimeout(g.settings.Listener.DrainTimeout),
				jms.WithBreakerSettings(g.settings.Sender.Breaker()),
			)
			defer client.Close()

			if err := client.RegisterSender(sender.Config{Name: replierName, Connections: replicas}); err != nil {
				return err
			}
			replier, err := client.Sender(replierName)
			if err != nil {
				return err
			}

			echo := listener.HandlerFunc(func(ctx context.Context, msg *broker.Message) error {
				_, err := jms.Reply(ctx, replier, msg, sender.Text(prefix+msg.Text()))
				return err
			})
			cfg := listener.Config{Queue: queue, Concurrency: concurrency}
			if err := client.RegisterListener(cfg, chain.Then(echo)); err != nil {
				return err
			}

			// senders connect before listener workers start receiving
			if err := client.Start(ctx); err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}

			g.logger.Info("serving", "queue", queue, "concurrency", concurrency)
			fmt.Fprintf(cmd.OutOrStdout(), "Echoing requests on %s... Press Ctrl+C to stop\n", queue)

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "JMS.PING", "Request queue")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Number of listener workers")
	cmd.Flags().IntVar(&replicas, "replicas", 1, "Number of reply connections")
	cmd.Flags().StringVar(&prefix, "prefix", "pong:", "Prefix added to every reply")
	cmd.Flags().DurationVar(&timeout, "handler-timeout", 30*time.Second, "Deadline for handling one request, 0 disables it")
	return cmd
}

// healthSink logs connection events and, when metrics are enabled, counts
// them and serves /metrics. The returned registerer is nil when metrics are
// disabled.
func (g *globals) healthSink() (health.Sink, prometheus.Registerer, func(), error) {
	logSink := health.NewLogSink(g.logger)
	if !g.settings.Metrics.Enabled {
		return logSink, nil, func() {}, nil
	}

	reg := prometheus.NewRegistry()
	metrics, err := health.NewMetricsSink(reg)
	if err != nil {
		return nil, nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              g.settings.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("metrics server failed", "error", err)
		}
	}()

	async := health.NewAsync(health.Multi{logSink, metrics}, 256)
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		async.Close()
	}
	return async, reg, stop, nil
}
