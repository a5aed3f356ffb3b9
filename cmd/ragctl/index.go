package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"faq-rag/internal/queue"
)

func newIndexCmd(build buildFunc) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index knowledge files (Markdown FAQ, TXT or PDF)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			if remote && !deps.Distributed() {
				return errors.New("--remote needs QUEUE_PROVIDER=nats")
			}

			ok := color.New(color.FgGreen).SprintFunc()
			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			for _, path := range args {
				content, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				name := filepath.Base(path)

				if remote {
					task, err := queue.NewTask(queue.TaskTypeIndex, queue.IndexPayload{Name: name, Content: content})
					if err != nil {
						return err
					}
					if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
						return fmt.Errorf("enqueue %s: %w", name, err)
					}
					fmt.Fprintf(out, "%s %s\n", ok("queued"), name)
					continue
				}

				n, err := deps.Reindex(ctx, name, content)
				if err != nil {
					return fmt.Errorf("index %s: %w", name, err)
				}
				fmt.Fprintf(out, "%s %s (%d passages)\n", ok("indexed"), name, n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "hand the files to the indexer through the queue")
	return cmd
}
