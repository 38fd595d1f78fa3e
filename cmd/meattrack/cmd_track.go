package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"meatmarket/tracker"
	"meatmarket/watch"
)

var trackCmd = &cobra.Command{
	Use:   "track [id]",
	Short: "Follow an order's status live until it is delivered or cancelled",
	Long: `Follow an order over the push channel. If the channel cannot be kept
open the order is polled instead; press Ctrl-C to stop.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := orderArg(args)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		header := http.Header{}
		if tok := cli.sess.Token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
		cfg := cli.cfg.Client

		out := cmd.OutOrStdout()
		done := make(chan struct{})
		var finished bool
		var last watch.View
		w := watch.New(id, watch.Config{
			Tracker: tracker.Config{
				BaseURL:          cfg.PushURL,
				MaxRetries:       cfg.MaxRetries,
				RetryStep:        cfg.RetryStep,
				Header:           header,
				HandshakeTimeout: cfg.HandshakeTimeout,
			},
			PollInterval: cfg.PollInterval,
		}, cli.client,
			watch.WithLogger(cli.log),
			watch.WithOnUpdate(func(v watch.View) {
				if v.Live != last.Live || v.Polling != last.Polling {
					fmt.Fprintf(out, "%s  %s\n", time.Now().Format("15:04:05"), connectionLabel(v))
				}
				if v.HasOrder && (!last.HasOrder || v.Order.Status != last.Order.Status) {
					fmt.Fprintf(out, "%s  order %s is %s (%s)\n", time.Now().Format("15:04:05"), v.OrderID, v.Order.Status, v.Source)
				}
				last = v
				if v.HasOrder && v.Order.Status.IsTerminal() && !finished {
					finished = true
					close(done)
				}
			}),
		)
		defer w.Close()
		cli.sess.SetCurrentOrder(id)

		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil
	},
}

func connectionLabel(v watch.View) string {
	switch {
	case v.Live:
		return "live"
	case v.Polling:
		return "push unavailable, polling"
	case v.Exhausted:
		return "push unavailable"
	default:
		return "reconnecting"
	}
}
