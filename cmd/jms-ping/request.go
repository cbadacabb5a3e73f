package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	jms "github.com/davideduma/commons-jms"
	"github.com/davideduma/commons-jms/correlator"
	"github.com/davideduma/commons-jms/health"
	"github.com/davideduma/commons-jms/sender"
)

func newRequestCmd(g *globals) *cobra.Command {
	var (
		queue      string
		replyQueue string
		body       string
		count      int
		parallel   int
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send requests and wait for correlated replies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			factory, err := g.settings.ConnectionFactory(g.logger)
			if err != nil {
				return err
			}
			strategy, err := g.settings.Sender.Balance()
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = g.settings.Correlator.Timeout
			}
			if parallel < 1 {
				parallel = 1
			}

			client, err := jms.Bootstrap(ctx, jms.Bindings{
				Senders: []sender.Config{
					{Name: "requests", Queue: queue, Connections: parallel, Strategy: strategy},
				},
				Correlators: []correlator.Config{
					{Name: "replies", Queue: replyQueue, Timeout: timeout, Connections: parallel},
				},
			},
				jms.WithDefaultConnectionFactory(factory),
				jms.WithLogger(g.logger),
				jms.WithHealthSink(health.NewLogSink(g.logger)),
			)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer client.Close()

			requester, err := client.Requester("requests", "replies")
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var (
				mu       sync.Mutex
				failures int
				wg       sync.WaitGroup
			)
			jobs := make(chan int)
			for w := 0; w < parallel; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range jobs {
						start := time.Now()
						reply, err := requester.Request(ctx, sender.Text(fmt.Sprintf("%s #%d", body, i)))
						elapsed := time.Since(start)

						mu.Lock()
						if err != nil {
							failures++
							fmt.Fprintf(out, "%4d  error   %v\n", i, err)
						} else {
							fmt.Fprintf(out, "%4d  %-7s %s\n", i, elapsed.Round(time.Millisecond), reply.Text())
						}
						mu.Unlock()
					}
				}()
			}

		loop:
			for i := 1; i <= count; i++ {
				select {
				case jobs <- i:
				case <-ctx.Done():
					break loop
				}
			}
			close(jobs)
			wg.Wait()

			if failures > 0 {
				return fmt.Errorf("%d of %d requests failed", failures, count)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "JMS.PING", "Request queue")
	cmd.Flags().StringVarP(&replyQueue, "reply-queue", "r", "JMS.PING.REPLY", "Reply queue")
	cmd.Flags().StringVarP(&body, "body", "b", "ping", "Request body")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of requests")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "Concurrent requests and connections")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Reply timeout (default $JMS_CORRELATOR_TIMEOUT)")
	return cmd
}
