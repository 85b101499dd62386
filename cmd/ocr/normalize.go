// cmd/ocr/normalize.go
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/SyedDaiam9101/ocr-service/api/ocrv1"
	"github.com/SyedDaiam9101/ocr-service/internal/textnorm"
)

func newNormalizeCmd() *cobra.Command {
	var remote string

	cmd := &cobra.Command{
		Use:   "normalize TEXT...",
		Short: "Normalize text the way recognition results are normalized",
		Long: `Print each argument after width conversion, whitespace removal and
punctuation-run collapsing, one result per line.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			norm := textnorm.New()
			normalize := func(text string) (string, error) {
				return norm.Normalize(text), nil
			}
			if remote != "" {
				conn, err := dial(remote)
				if err != nil {
					return err
				}
				defer conn.Close()
				client := ocrv1.NewRecognizerClient(conn)
				normalize = func(text string) (string, error) {
					ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
					defer cancel()
					resp, err := client.Normalize(ctx, &ocrv1.NormalizeRequest{Text: text})
					if err != nil {
						return "", fmt.Errorf("normalize %q: %w", text, err)
					}
					return resp.Text, nil
				}
			}
			for _, text := range args {
				out, err := normalize(text)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "address of a running ocr server (host:port)")
	return cmd
}
