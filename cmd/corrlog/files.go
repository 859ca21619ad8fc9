package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/corrlog/internal/logging"
)

type pruneOptions struct {
	dir           string
	retentionDays int
}

func newPruneCmd(root *rootOptions) *cobra.Command {
	opts := &pruneOptions{retentionDays: -1}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete log files older than the retention period",
		Long: `Apply retention to the log directory now.

Files dated before today minus the retention period are removed. Today's file
is always kept. A retention of 0 keeps every file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			dir := firstNonEmpty(opts.dir, cfg.Log.Dir)
			if dir == "" {
				return fmt.Errorf("no log directory: set LOG_DIR or --dir")
			}
			retention := cfg.Log.RetentionDays
			if opts.retentionDays >= 0 {
				retention = opts.retentionDays
			}

			removed, err := logging.PruneDir(dir, retention, time.Now())
			for _, name := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", name)
			}
			if err != nil {
				return fmt.Errorf("prune %s: %w", dir, err)
			}
			if len(removed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to prune")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "log directory (defaults to LOG_DIR)")
	cmd.Flags().IntVar(&opts.retentionDays, "retention-days", -1, "override LOG_RETENTION_DAYS")
	return cmd
}

type auditOptions struct {
	dir    string
	asJSON bool
}

func newAuditCmd(root *rootOptions) *cobra.Command {
	opts := &auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List the log files recorded in the audit file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			dir := firstNonEmpty(opts.dir, cfg.Log.Dir)
			if dir == "" {
				return fmt.Errorf("no log directory: set LOG_DIR or --dir")
			}

			audit, err := logging.ReadAudit(dir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(audit)
			}

			if len(audit.Files) == 0 {
				fmt.Fprintln(out, "no log files recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tDATE\tADDED")
			for _, f := range audit.Files {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, f.Date, f.AddedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", "", "log directory (defaults to LOG_DIR)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the audit file as JSON")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
