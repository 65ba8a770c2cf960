package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/loglineos/ledger/internal/span"
)

// NewAppendCommand appends one span read from a file or stdin.
func NewAppendCommand(opts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a span to the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			sp, err := readSpan(file, cmd.InOrStdin())
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitCommandError, "reading span", err)
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			sess := env.Store.Bind(opts.UserID, opts.TenantID)
			written, err := sess.Append(cmd.Context(), sp, sp.Seq)
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "append", err)
			}

			if opts.Format == "json" {
				return formatter.Success(written)
			}
			return formatter.Success(fmt.Sprintf("appended %s seq %d", written.ID, written.Seq))
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "span JSON file (stdin when omitted)")
	return cmd
}

// NewTimelineCommand prints the visible projection, newest first.
func NewTimelineCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show the visible timeline (latest revision per span)",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			sess := env.Store.Bind(opts.UserID, opts.TenantID)
			spans, err := sess.Timeline(cmd.Context(), limit)
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "timeline", err)
			}

			if opts.Format == "json" {
				return formatter.Success(spans)
			}
			for _, sp := range spans {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-14s seq=%-3d %s %s %s\n",
					sp.At.Format("2006-01-02 15:04:05"), sp.EntityType, sp.Seq, sp.Who, sp.Did, sp.This)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d spans\n", len(spans))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum spans to show")
	return cmd
}

// NewXrayCommand prints per-type counts of the visible ledger.
func NewXrayCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xray",
		Short: "Summarize the visible ledger by entity type",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{
				Format:    opts.Format,
				Writer:    cmd.OutOrStdout(),
				ErrWriter: cmd.ErrOrStderr(),
				Verbose:   opts.Verbose,
			}

			env, err := OpenEnv(opts)
			if err != nil {
				return err
			}
			defer env.Close()

			sess := env.Store.Bind(opts.UserID, opts.TenantID)
			stats, err := sess.Stats(cmd.Context())
			if err != nil {
				formatter.Error(ErrCodeGeneric, err.Error(), nil)
				return WrapExitError(ExitFailure, "xray", err)
			}

			if opts.Format == "json" {
				return formatter.Success(stats)
			}
			for _, tc := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %d\n", tc.EntityType, tc.Count)
			}
			return nil
		},
	}
	return cmd
}

func readSpan(file string, stdin io.Reader) (span.Span, error) {
	var r io.Reader = stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return span.Span{}, err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()
	var sp span.Span
	if err := dec.Decode(&sp); err != nil {
		return span.Span{}, fmt.Errorf("decode span JSON: %w", err)
	}
	return sp, nil
}
