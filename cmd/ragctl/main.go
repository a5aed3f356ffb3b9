package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"faq-rag/internal/app"
)

var version = "dev"

// buildFunc builds the dependencies a command runs against.
type buildFunc func() (*app.Deps, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(app.Build).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(build buildFunc) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Ask, index and manage the FAQ answer cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return os.Setenv("CONFIG_FILE", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file applied on top of the environment")

	root.AddCommand(
		newAskCmd(build),
		newIndexCmd(build),
		newCacheCmd(build),
		newFingerprintCmd(build),
	)
	return root
}
