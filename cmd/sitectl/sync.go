package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/client"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/ui"
	"github.com/spf13/cobra"
)

// parseSinceFlag accepts an RFC 3339 timestamp or a duration meaning "that
// long before now". Empty returns the zero time.
func parseSinceFlag(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("--since %q: duration must not be negative", s)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since %q: want an RFC 3339 timestamp or a duration like 5m", s)
	}
	return t, nil
}

var pollCmd = &cobra.Command{
	Use:     "poll",
	Short:   "Fetch changes since a timestamp",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("since")
		since, err := parseSinceFlag(raw, time.Now())
		if err != nil {
			return err
		}
		res, err := siteClient.Changes(cmd.Context(), since)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		out := cmd.OutOrStdout()
		for _, ev := range res.Changes {
			printChange(out, ev)
		}
		fmt.Fprintf(out, "%d changes; next --since %s\n", len(res.Changes), res.Timestamp.UTC().Format(time.RFC3339Nano))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream live content changes",
	GroupID: "sync",
	Long: `Stream live content changes over the push channel.

If the push channel cannot be opened or drops, watch falls back to polling
the changes endpoint from the last change it saw.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		raw, _ := cmd.Flags().GetString("since")
		interval, _ := cmd.Flags().GetDuration("poll-interval")
		pollOnly, _ := cmd.Flags().GetBool("poll")

		since, err := parseSinceFlag(raw, time.Now())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w := &watcher{out: cmd.OutOrStdout(), json: jsonOutput, since: since}
		err = runWatch(ctx, siteClient, w, client.WatchOptions{Role: role, Since: since}, interval, pollOnly)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// watcher prints push and poll events and tracks the newest timestamp seen
// so a fallback poll resumes without gaps.
type watcher struct {
	out   io.Writer
	json  bool
	since time.Time
}

func (w *watcher) change(ev *model.ChangeEvent) error {
	if ev.Timestamp.After(w.since) {
		w.since = ev.Timestamp
	}
	if w.json {
		return printJSON(w.out, ev)
	}
	printChange(w.out, ev)
	return nil
}

func (w *watcher) event(ev client.Event) error {
	switch ev.Type {
	case broadcast.MessageContentUpdate:
		var ce model.ChangeEvent
		if err := json.Unmarshal(ev.Data, &ce); err != nil {
			return fmt.Errorf("decoding content_update: %w", err)
		}
		return w.change(&ce)
	case broadcast.MessageFullSync:
		var fs broadcast.FullSync
		if err := json.Unmarshal(ev.Data, &fs); err != nil {
			return fmt.Errorf("decoding full_sync: %w", err)
		}
		if ev.Timestamp.After(w.since) {
			w.since = ev.Timestamp
		}
		if w.json {
			return printJSON(w.out, ev)
		}
		fmt.Fprintf(w.out, "%s %d values (%s)\n", ui.RenderMuted("full sync:"), len(fs.Changes), fs.Reason)
	case broadcast.MessageAdminNotification:
		var n model.AdminNotice
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return fmt.Errorf("decoding admin_notification: %w", err)
		}
		if w.json {
			return printJSON(w.out, ev)
		}
		msg := n.Message
		if msg == "" {
			msg = n.Kind
		}
		fmt.Fprintf(w.out, "%s %s\n", ui.RenderWarn("admin:"), msg)
	case broadcast.MessageConnectionEstablished:
		var hello broadcast.Welcome
		_ = json.Unmarshal(ev.Data, &hello)
		slog.Debug("watch: connected", "session", hello.SessionID, "role", hello.Role)
	}
	return nil
}

// runWatch prefers the push channel and falls back to chained polling when
// it cannot connect or the connection drops.
func runWatch(ctx context.Context, c *client.HTTPClient, w *watcher, opts client.WatchOptions, interval time.Duration, pollOnly bool) error {
	if !pollOnly {
		err := c.Watch(ctx, opts, w.event)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s push channel unavailable (%v); polling every %s\n", ui.RenderWarn("!"), err, interval)
	}
	_, err := c.Follow(ctx, w.since, interval, w.change)
	return err
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show live connection counts",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withSessions, _ := cmd.Flags().GetBool("sessions")
		st, err := siteClient.RealtimeStatus(cmd.Context())
		if err != nil {
			return err
		}
		var roster []broadcast.Info
		if withSessions {
			if roster, err = siteClient.Sessions(cmd.Context()); err != nil {
				return err
			}
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"stats": st, "sessions": roster})
		}
		printStats(cmd.OutOrStdout(), st)
		if withSessions {
			fmt.Fprintln(cmd.OutOrStdout())
			return printSessions(cmd.OutOrStdout(), roster)
		}
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server and its store are reachable",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := siteClient.Health(cmd.Context())
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", ui.RenderFail("✗"), siteClient.BaseURL(), err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", ui.RenderOK("✓"), siteClient.BaseURL(), status)
		return nil
	},
}

func init() {
	pollCmd.Flags().String("since", "", "RFC 3339 timestamp or duration ago (default: the server's window)")

	watchCmd.Flags().String("role", "viewer", "session role (viewer or admin)")
	watchCmd.Flags().String("since", "", "replay changes after this timestamp or duration ago")
	watchCmd.Flags().Duration("poll-interval", 5*time.Second, "interval for the polling fallback")
	watchCmd.Flags().Bool("poll", false, "poll only; do not open the push channel")

	statusCmd.Flags().Bool("sessions", false, "also list sessions (admin)")
}
