package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"faq-rag/internal/fingerprint"
)

func newFingerprintCmd(build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <question> [other]",
		Short: "Show how a question is normalized, and its similarity to another",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := build()
			if err != nil {
				return err
			}
			defer deps.Close()

			engine, err := fingerprint.New(fingerprint.Options{
				Language:  deps.Config.NormalizeLanguage,
				Stopwords: deps.Config.Stopwords,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var fps []fingerprint.Fingerprint
			for _, q := range args {
				fp, err := engine.Fingerprint(q)
				if err != nil {
					return fmt.Errorf("%q: %w", q, err)
				}
				fps = append(fps, fp)
				fmt.Fprintf(out, "normalized: %s\nhash:       %s\ntokens:     %s\n",
					fp.Normalized, fp.Hash, strings.Join(fp.Signature.Tokens, " "))
			}
			if len(fps) == 2 {
				score := fingerprint.Similarity(fps[0].Signature, fps[1].Signature)
				match := "miss"
				if deps.Config.NearDuplicate && score >= deps.Config.SimilarityThreshold {
					match = "near-duplicate"
				}
				if fps[0].Hash == fps[1].Hash {
					match = "exact"
				}
				fmt.Fprintf(out, "similarity: %.3f (%s, threshold %.2f)\n", score, match, deps.Config.SimilarityThreshold)
			}
			return nil
		},
	}
}
