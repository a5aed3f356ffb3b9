package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"faq-rag/internal/pipeline"
)

func newAskCmd(build buildFunc) *cobra.Command {
	var (
		bypass  bool
		topK    int
		session string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			ctx := cmd.Context()
			if err := deps.Bootstrap(ctx); err != nil {
				return err
			}
			if maxTopK := deps.Config.MaxTopK; maxTopK > 0 && topK > maxTopK {
				return fmt.Errorf("--top-k must be at most %d", maxTopK)
			}

			resp, err := deps.Pipeline.Ask(ctx, pipeline.Request{
				Question:    strings.Join(args, " "),
				SessionID:   session,
				BypassCache: bypass,
				TopK:        topK,
				ReceivedAt:  time.Now(),
			})
			if err != nil {
				return fmt.Errorf("%s: %w", pipeline.Classify(err), err)
			}

			boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
			faint := color.New(color.Faint).SprintFunc()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", boldCyan("Answer:"), resp.Answer)
			fmt.Fprintln(out, faint(describe(*resp)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&bypass, "bypass-cache", false, "skip the cache lookup and refresh the entry")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "passages to retrieve (0 uses the configured default)")
	cmd.Flags().StringVar(&session, "session", "", "session id recorded in the logs")
	return cmd
}

func describe(resp pipeline.Response) string {
	source := "generated"
	switch {
	case resp.NearDuplicate:
		source = fmt.Sprintf("near-duplicate cache hit (similarity %.2f)", resp.Similarity)
	case resp.Cached:
		source = "cache hit"
	case resp.Coalesced:
		source = "coalesced"
	}
	parts := []string{source, fmt.Sprintf("%dms", resp.Latency.Milliseconds())}
	if len(resp.PassageIDs) > 0 {
		parts = append(parts, "passages "+strings.Join(resp.PassageIDs, ","))
	}
	if u := resp.Usage; u.PromptTokens+u.CompletionTokens > 0 {
		parts = append(parts, fmt.Sprintf("tokens %d/%d", u.PromptTokens, u.CompletionTokens))
	}
	return strings.Join(parts, " | ")
}
