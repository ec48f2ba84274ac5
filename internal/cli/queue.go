package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"chanrelay/internal/app"
	"chanrelay/internal/config"
	"chanrelay/internal/storage"
	logx "chanrelay/pkg/logx"
)

// NewQueueCommand groups offline queue maintenance.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or maintain the relay queue",
	}
	cmd.AddCommand(newQueueStatsCommand(rootOpts))
	cmd.AddCommand(newQueuePurgeCommand(rootOpts))
	return cmd
}

// QueueStats is the printable form of storage.Stats.
type QueueStats struct {
	Pending         int64      `json:"pending"`
	Forwarded       int64      `json:"forwarded"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
	NextDueAt       *time.Time `json:"next_due_at,omitempty"`
}

func newQueueStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "stats",
		Short:        "Print queue counters",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := openQueue(rootOpts)
			if err != nil {
				return err
			}
			defer q.Close()

			st, err := q.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("queue stats: %w", err)
			}
			out := QueueStats{Pending: st.Pending, Forwarded: st.Forwarded}
			if !st.OldestCreatedAt.IsZero() {
				t := st.OldestCreatedAt.UTC()
				out.OldestCreatedAt = &t
			}
			if !st.NextDueAt.IsZero() {
				t := st.NextDueAt.UTC()
				out.NextDueAt = &t
			}
			return writeStats(cmd.OutOrStdout(), rootOpts.Format, out)
		},
	}
}

func writeStats(w io.Writer, format string, st QueueStats) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	fmt.Fprintf(w, "pending:   %d\n", st.Pending)
	fmt.Fprintf(w, "forwarded: %d\n", st.Forwarded)
	if st.OldestCreatedAt != nil {
		fmt.Fprintf(w, "oldest:    %s\n", st.OldestCreatedAt.Format(time.RFC3339))
	}
	if st.NextDueAt != nil {
		fmt.Fprintf(w, "next due:  %s\n", st.NextDueAt.Format(time.RFC3339))
	}
	return nil
}

func newQueuePurgeCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete entries created before now minus --older-than",
		Long: `Delete queue entries regardless of status, the same way the daily
retention sweep does. Defaults to the configured retention period.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(rootOpts.ConfigPath).Load()
			if err != nil {
				return err
			}
			if olderThan <= 0 {
				if cfg.Retention.PeriodDays <= 0 {
					return fmt.Errorf("--older-than is required when retention.period_days is not set")
				}
				olderThan = time.Duration(cfg.Retention.PeriodDays) * 24 * time.Hour
			}
			q, err := openQueueFrom(cfg)
			if err != nil {
				return err
			}
			defer q.Close()

			cutoff := time.Now().Add(-olderThan)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := q.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("queue purge: %w", err)
			}
			if rootOpts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"removed": n, "cutoff": cutoff.UTC()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries created before %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age threshold (e.g. 168h); defaults to retention.period_days")
	return cmd
}

func openQueue(opts *RootOptions) (storage.Queue, error) {
	cfg, err := config.NewConfigManager(opts.ConfigPath).Load()
	if err != nil {
		return nil, err
	}
	return openQueueFrom(cfg)
}

func openQueueFrom(cfg *config.Config) (storage.Queue, error) {
	sc, err := app.MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, logx.Nop())
}
