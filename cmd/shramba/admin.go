package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/erazemk/shramba/internal/auth"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			database, err := openDB(ctx, cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer database.Close()

			version, err := db.SchemaVersion(ctx, database)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d\n", cfg.DatabasePath, version)
			return nil
		},
	}
}

func newTokenCommand(opts *globalOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <client>",
		Short: "Issue a service token for an API client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.TokenTTL
			}
			ctx := cmd.Context()
			database, err := openDB(ctx, cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer database.Close()

			secret, err := store.GetTokenSecret(ctx, database)
			if err != nil {
				return err
			}
			token, claims, err := auth.GenerateToken(secret, args[0], ttl, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(out, "\nclient:  %s\nid:      %s\nexpires: %s\n",
				claims.Client, claims.ID, claims.ExpiresAt.Time.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}

func newSessionsCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List pending staging sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				sessions, err := a.sessions.Active(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), sessions)
				}
				writeSessions(cmd.OutOrStdout(), sessions)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newHistoryCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <item-id>",
		Short: "Show the activity ledger of one item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				entries, err := a.engine.History(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				writeHistory(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newReindexCommand(opts *globalOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Backfill item embeddings for semantic search",
		Long: "Embeds every item whose embedding is missing or stale. Items whose\n" +
			"content has not changed since their last embedding are skipped.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if a.refresher == nil {
					return errors.New("reindex needs a Voyage API key (SHRAMBA_VOYAGE_KEY or VOYAGE_API_KEY)")
				}
				res, err := a.refresher.RefreshAll(ctx, workers)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d items, %d failed\n", res.Items, res.Failed)
				if res.Failed > 0 {
					return fmt.Errorf("%d of %d items could not be embedded", res.Failed, res.Items)
				}
				return store.PutSetting(ctx, a.db, store.SettingLastReindex, a.clock.Now().UTC().Format(time.RFC3339))
			})
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 4, "concurrent embedding requests")
	return cmd
}

// withApp runs fn against a fully wired app. Command output goes to stdout,
// logs only to stderr so they do not mix with it.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, closeLog, err := setupLogger(cfg.Log, cmd.ErrOrStderr(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger.With("command", cmd.Name()))
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSessions(w io.Writer, sessions []model.ActiveSession) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no pending sessions")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET BIN\tITEMS\tIMAGES\tIDLE\tSTALE")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%dm\t%t\n",
			s.ID, deref(s.TargetBinID), s.PendingItems, s.Images, s.IdleMinutes, s.Stale)
	}
	tw.Flush()
}

func writeHistory(w io.Writer, entries []model.ActivityEntry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tACTION\tDELTA\tFROM\tTO\tNOTE")
	for _, e := range entries {
		delta := "-"
		if e.QuantityDelta != nil {
			delta = fmt.Sprintf("%+d", *e.QuantityDelta)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Action, delta,
			deref(e.FromBinID), deref(e.ToBinID), e.Note)
	}
	tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
