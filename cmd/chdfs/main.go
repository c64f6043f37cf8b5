// chdfs is a small operational CLI around the delegating adapter: it
// bootstraps a mount the same way an embedding application would and runs a
// single filesystem operation against it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iabetor/chdfs-go/internal/adapter"
	"github.com/iabetor/chdfs-go/internal/config"
	"github.com/iabetor/chdfs-go/internal/metrics"
	"github.com/iabetor/chdfs-go/internal/util"

	// Backend kinds available to the loader registry.
	_ "github.com/iabetor/chdfs-go/internal/storage/s3"
)

var (
	flagAddr        string
	flagConfigFile  string
	flagLogLevel    string
	flagMetricsAddr string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chdfs",
		Short:         "Operate on a CHDFS mount",
		Long:          "chdfs bootstraps a CHDFS mount point and runs filesystem operations against it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "mount point address, e.g. f4mabcdefgh-xyzw.chdfs.ap-guangzhou.myqcloud.com")
	cmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to the site configuration file")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while the command runs")

	cmd.AddCommand(
		newLsCmd(),
		newStatCmd(),
		newMkdirCmd(),
		newMvCmd(),
		newRmCmd(),
		newCatCmd(),
		newPutCmd(),
		newSummaryCmd(),
	)
	return cmd
}

// withAdapter wraps a command body with the full bootstrap and teardown:
// logger, site config, metrics endpoint, adapter initialize, and close.
func withAdapter(fn func(ctx context.Context, a *adapter.Adapter, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		util.InitializeLogger(util.ParseLevel(flagLogLevel))

		if flagAddr == "" {
			return fmt.Errorf("--addr is required")
		}
		if flagConfigFile == "" {
			return fmt.Errorf("--config is required")
		}

		src, err := config.LoadFile(flagConfigFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var opts []adapter.Option
		if flagMetricsAddr != "" {
			collector := metrics.NewCollector()
			if err := collector.Start(flagMetricsAddr); err != nil {
				return err
			}
			defer collector.Stop(context.Background())
			opts = append(opts, adapter.WithMetrics(collector))
		}

		a := adapter.New(opts...)
		if err := a.Initialize(ctx, flagAddr, src); err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a, args)
	}
}
