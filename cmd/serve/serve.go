// Package serve implements the serve-metrics command.
package serve

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/mediacore/internal/app"
)

var listen string

// Command creates the serve-metrics command. It exposes buffer pool, memory
// and codec metrics until interrupted.
func Command(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Expose Prometheus metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := listen
			if addr == "" && rt.Settings != nil {
				addr = rt.Settings.Metrics.Listen
			}
			if addr == "" {
				return fmt.Errorf("no listen address configured")
			}
			return run(cmd.Context(), rt, addr)
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (default: metrics.listen setting)")

	return cmd
}

func run(ctx context.Context, rt *app.Runtime, addr string) error {
	rt.ServeMetrics(ctx, addr)
	if err := <-rt.MetricsErr(); err != nil {
		return fmt.Errorf("metrics endpoint %s: %w", addr, err)
	}
	return nil
}
