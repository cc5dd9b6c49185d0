package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/draftkeep/internal/integrity"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	Draft bool
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put <key> <file.json>",
		Short: "Store a JSON document as a verified record",
		Long: `Store the JSON document in file under key.

The record is stamped with the current time and a digest of the
document's canonical form. When the store is full, drafts older than
draft_max_age are evicted once and the write is retried once.

Examples:
  draftkeep put sheet:42 recipe.json
  draftkeep put draft:42 edited.json --draft`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Draft, "draft", false, "mark the record as a draft")

	return cmd
}

func runPut(opts *PutOptions, key, path string, cmd *cobra.Command) error {
	doc, err := readDocument(path)
	if err != nil {
		return err
	}

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	out := newFormatter(cmd, opts.RootOptions)
	if err := e.store.Save(cmd.Context(), key, doc, opts.Draft); err != nil {
		_ = out.Error(storageErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to save record", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{"key": key, "draft": opts.Draft})
	}
	kind := "record"
	if opts.Draft {
		kind = "draft"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s %s\n", kind, key)
	return nil
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a verified record",
		Long: `Print the document stored under key after verifying its digest.

Exit codes:
  0 - Record found and verified
  1 - Record missing or corrupted
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, key string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.close()

	out := newFormatter(cmd, opts)
	raw, ok, err := e.store.LoadRaw(cmd.Context(), key)
	if err != nil {
		_ = out.Error(storageErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to load record", err)
	}
	if !ok {
		msg := fmt.Sprintf("no record stored under %s", key)
		_ = out.Error(CodeNotFound, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"key":       key,
			"timestamp": e.store.TimestampOf(cmd.Context(), key),
			"data":      decodePayload(raw),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(raw))
	return nil
}

// InspectResult is the output of the inspect command.
type InspectResult struct {
	Records []integrity.RecordInfo `json:"records"`
	Bytes   int64                  `json:"bytes"`
	Quota   int64                  `json:"quota"`
	Corrupt int                    `json:"corrupt"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [prefix]",
		Short: "List stored records and quota usage",
		Long: `List every record whose key starts with prefix, verifying each one,
and report how much of the storage quota is in use.

Examples:
  draftkeep inspect
  draftkeep inspect draft:
  draftkeep inspect --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return runInspect(rootOpts, prefix, cmd)
		},
	}
	return cmd
}

func runInspect(opts *RootOptions, prefix string, cmd *cobra.Command) error {
	e, err := openEnv(cmd, opts)
	if err != nil {
		return err
	}
	defer e.close()

	out := newFormatter(cmd, opts)
	infos, err := e.store.Inspect(cmd.Context(), prefix)
	if err != nil {
		_ = out.Error(storageErrorCode(err), err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to inspect records", err)
	}
	usage, err := e.backend.Usage(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read usage", err)
	}

	result := InspectResult{
		Records: infos,
		Bytes:   usage.Bytes,
		Quota:   usage.Quota,
	}
	for _, info := range infos {
		if !info.Verified {
			result.Corrupt++
		}
	}

	if opts.Format == "json" {
		return out.Success(result)
	}
	outputInspectText(cmd, result)
	return nil
}

func outputInspectText(cmd *cobra.Command, result InspectResult) {
	w := cmd.OutOrStdout()

	if len(result.Records) == 0 {
		fmt.Fprintln(w, "No records found.")
	}
	for _, info := range result.Records {
		kind := "record"
		if info.IsDraft {
			kind = "draft"
		}
		status := "ok"
		if !info.Verified {
			status = "CORRUPT: " + info.Problem
		}
		saved := "-"
		if info.Timestamp > 0 {
			saved = time.UnixMilli(info.Timestamp).UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-24s %-6s %8d  %-20s  %s\n", info.Key, kind, info.Size, saved, status)
	}

	fmt.Fprintln(w)
	quota := "unlimited"
	if result.Quota > 0 {
		quota = fmt.Sprintf("%d", result.Quota)
	}
	fmt.Fprintf(w, "Records: %d (%d corrupt)\n", len(result.Records), result.Corrupt)
	fmt.Fprintf(w, "Usage:   %d of %s bytes\n", result.Bytes, quota)
}

// EvictOptions holds flags for the evict command.
type EvictOptions struct {
	*RootOptions
	MaxAge time.Duration
}

// NewEvictCommand creates the evict command.
func NewEvictCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvictOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Remove stale and unreadable drafts",
		Long: `Remove every draft older than --max-age, and every draft record that
cannot be parsed. Non-draft records are never touched.

Defaults to the configured draft_max_age.

Examples:
  draftkeep evict
  draftkeep evict --max-age 72h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvict(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.MaxAge, "max-age", 0, "evict drafts older than this (default: config draft_max_age)")

	return cmd
}

func runEvict(opts *EvictOptions, cmd *cobra.Command) error {
	if opts.MaxAge < 0 {
		return NewExitError(ExitCommandError, "--max-age must not be negative")
	}

	e, err := openEnv(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer e.close()

	maxAge := opts.MaxAge
	if maxAge == 0 {
		maxAge = e.cfg.DraftMaxAge
	}

	out := newFormatter(cmd, opts.RootOptions)
	n, err := e.store.EvictStaleDrafts(cmd.Context(), maxAge)
	if err != nil {
		_ = out.Error(storageErrorCode(err), err.Error(), map[string]int{"evicted": n})
		return WrapExitError(ExitFailure, "eviction incomplete", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{"evicted": n, "max_age": maxAge.String()})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Evicted %d draft(s) older than %s\n", n, maxAge)
	return nil
}
