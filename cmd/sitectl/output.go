package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/alfredjeanlab/livesite/internal/broadcast"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

// maxCell bounds value columns in tables; long marketing copy is truncated.
const maxCell = 48

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func printItem(w io.Writer, item *model.ContentItem) {
	fmt.Fprintf(w, "Key:         %s\n", ui.RenderAccent(item.Key))
	fmt.Fprintf(w, "Value:       %s\n", item.Value)
	fmt.Fprintf(w, "Type:        %s\n", item.ValueType)
	fmt.Fprintf(w, "Category:    %s\n", item.Category)
	if item.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", item.Description)
	}
	fmt.Fprintf(w, "Updated At:  %s\n", formatTime(item.UpdatedAt))
	if item.UpdatedBy != "" {
		fmt.Fprintf(w, "Updated By:  %s\n", item.UpdatedBy)
	}
}

func printItemTable(w io.Writer, items []*model.ContentItem) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tTYPE\tCATEGORY\tVALUE\tUPDATED")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			it.Key, it.ValueType, it.Category, truncate(it.Value, maxCell), formatTime(it.UpdatedAt))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d items\n", len(items))
	return nil
}

func printHistory(w io.Writer, entries []*model.VersionEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tACTION\tPREVIOUS\tNEW\tBY\tAT")
	for _, e := range entries {
		action := string(e.Action)
		if e.Action == model.ActionRollback && e.RollbackOf > 0 {
			action = fmt.Sprintf("rollback(%d)", e.RollbackOf)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Sequence, action,
			truncate(e.PreviousValue, maxCell/2), truncate(e.NewValue, maxCell/2),
			e.ChangedBy, formatTime(e.ChangedAt))
	}
	return tw.Flush()
}

// printChange writes one line per applied change.
func printChange(w io.Writer, ev *model.ChangeEvent) {
	seq := ""
	if ev.Sequence > 0 {
		seq = fmt.Sprintf(" #%d", ev.Sequence)
	}
	by := ""
	if ev.Actor != "" {
		by = " by " + ev.Actor
	}
	fmt.Fprintf(w, "%s %s%s = %s%s\n",
		ui.RenderMuted(formatTime(ev.Timestamp)),
		ui.RenderAccent(ev.Key), seq,
		truncate(ev.Value, maxCell*2),
		ui.RenderMuted(by))
}

func printStats(w io.Writer, st *broadcast.Stats) {
	fmt.Fprintf(w, "Connections: %d (%d admin, %d viewer)\n", st.Total, st.Admins, st.Viewers)
	if len(st.ActiveAdmins) > 0 {
		fmt.Fprintf(w, "Admins:      %s\n", strings.Join(st.ActiveAdmins, ", "))
	}
}

func printSessions(w io.Writer, roster []broadcast.Info) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tROLE\tACTOR\tTRANSPORT\tCONNECTED\tIDLE\tPENDING")
	for _, s := range roster {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.0fs\t%d\n",
			s.SessionID, s.Role, s.Actor, s.Transport, formatTime(s.ConnectedAt), s.IdleSecs, s.Pending)
	}
	return tw.Flush()
}
