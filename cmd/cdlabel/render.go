package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cdlabel/internal/discogs"
	"cdlabel/internal/label"
	u "cdlabel/internal/utils"
)

func newRenderCommand() *cobra.Command {
	var (
		out           string
		alternateRows bool
		showTitleBG   bool
		showRuler     bool
		keepBrackets  bool
	)

	cmd := &cobra.Command{
		Use:   "render <discogs-url-or-search>",
		Short: "Render a label PDF to a file without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := u.LoadConfig()
			u.SetLogLevel(cfg.Logger.Level)

			opts := label.OptionsFromConfig(cfg.Label)
			if cmd.Flags().Changed("alternate-rows") {
				opts.AlternateRows = alternateRows
			}
			if cmd.Flags().Changed("title-bg") {
				opts.ShowTitleBG = showTitleBG
			}
			if cmd.Flags().Changed("ruler") {
				opts.ShowRuler = showRuler
			}
			if keepBrackets {
				opts.StripBrackets = false
			}

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			client := discogs.NewClient(cfg.Discogs, cfg.Limits.MaxImageBytes)
			rel, err := client.Lookup(ctx, args[0])
			if err != nil {
				if errors.Is(err, discogs.ErrNotFound) {
					return fmt.Errorf("no matching release for %q", args[0])
				}
				return err
			}

			var cover []byte
			if rel.CoverURL != "" {
				if cover, err = client.CoverImage(ctx, rel); err != nil {
					u.Warn("Cover art unavailable, continuing without it", "error", err.Error())
					cover = nil
				}
			}

			pdfBuf, err := label.NewComposer(cfg.Label).Render(rel, cover, opts)
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, pdfBuf, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PDF saved to %s (%s - %s, %d discs)\n",
				out, rel.Artist, rel.Title, len(rel.Discs))
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "jukebox_labels.pdf", "Output PDF file path")
	cmd.Flags().BoolVar(&alternateRows, "alternate-rows", false, "Alternate track row background fill")
	cmd.Flags().BoolVar(&showTitleBG, "title-bg", false, "Draw a background behind album title and artist")
	cmd.Flags().BoolVar(&showRuler, "ruler", false, "Draw a mm ruler for checking print scaling")
	cmd.Flags().BoolVar(&keepBrackets, "keep-brackets", false, "Keep bracketed remarks in track titles")

	return cmd
}
