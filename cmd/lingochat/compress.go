package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nidhogg/lingochat/internal/compressor"
	"github.com/nidhogg/lingochat/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCompressCmd() *cobra.Command {
	var strength float64
	cmd := &cobra.Command{
		Use:   "compress [text]",
		Short: "Compress text with the configured backend and print the result",
		Long:  "Compress text with the configured backend. Reads standard input when no text is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				text = string(b)
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// The Redis memo is skipped for one-off runs.
			comp, err := compressor.New(cfg.CompressorSettings(), nil, zap.NewNop())
			if err != nil {
				return err
			}
			res, err := comp.Compress(cmd.Context(), text, strength)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, res.Text)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d -> %d tokens at %s%%\n",
				comp.Backend(), res.OriginalTokens, res.CompressedTokens,
				strconv.FormatFloat(strength, 'g', -1, 64))
			return nil
		},
	}
	cmd.Flags().Float64VarP(&strength, "strength", "s", 50, "compression strength (0-100)")
	return cmd
}
