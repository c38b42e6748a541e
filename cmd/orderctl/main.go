package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var opts globalOptions

	rootCmd := &cobra.Command{
		Use:           "orderctl",
		Short:         "Drive order status updates and payment verification against a running API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.apiURL, "api", "", "API base URL (default $API_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "access token (default $API_ACCESS_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&opts.actor, "actor", "", "acting user id (default: token subject)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log coordinator decisions")

	rootCmd.AddCommand(statusCmd(&opts))
	rootCmd.AddCommand(leaseCmd(&opts))
	rootCmd.AddCommand(payCmd(&opts))
	rootCmd.AddCommand(verifyCmd(&opts))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, describe(err))
		stop()
		os.Exit(1)
	}
}
