package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/livesite/internal/client"
	"github.com/alfredjeanlab/livesite/internal/model"
	"github.com/alfredjeanlab/livesite/internal/syncer"
	"github.com/alfredjeanlab/livesite/internal/ui"
	"github.com/spf13/cobra"
)

// explain expands server validation errors into one line per field.
func explain(err error) error {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || len(apiErr.Fields) == 0 {
		return err
	}
	parts := make([]string, 0, len(apiErr.Fields))
	for _, f := range apiErr.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Errorf("%s (%s)", apiErr.Message, strings.Join(parts, "; "))
}

var getCmd = &cobra.Command{
	Use:     "get <key>",
	Short:   "Show one content value",
	GroupID: "content",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		item, err := siteClient.GetContent(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), item)
		}
		printItem(cmd.OutOrStdout(), item)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List content values",
	GroupID: "content",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		items, err := siteClient.ListContent(cmd.Context(), category)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), items)
		}
		return printItemTable(cmd.OutOrStdout(), items)
	},
}

var setCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Set one content value and push it to connected pages",
	GroupID: "content",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vt, _ := cmd.Flags().GetString("type")
		category, _ := cmd.Flags().GetString("category")
		description, _ := cmd.Flags().GetString("description")

		ch := syncer.Change{
			Key:         args[0],
			Value:       args[1],
			ValueType:   model.ValueType(vt),
			Category:    category,
			Description: description,
		}
		if vt != "" && !ch.ValueType.IsValid() {
			return fmt.Errorf("invalid --type %q (text, number, date, datetime, boolean)", vt)
		}

		ev, err := siteClient.SetContent(cmd.Context(), ch)
		if err != nil {
			return explain(err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ev)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s = %s (version %d)\n",
			ui.RenderOK("✓"), ui.RenderAccent(ev.Key), ev.Value, ev.Sequence)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:     "history <key>",
	Short:   "Show the version history of a key",
	GroupID: "content",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := siteClient.History(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		if len(entries) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "no history for %s\n", args[0])
			return nil
		}
		return printHistory(cmd.OutOrStdout(), entries)
	},
}

var rollbackCmd = &cobra.Command{
	Use:     "rollback <key> <version>",
	Short:   "Restore the value a key had at a past version",
	GroupID: "content",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seq, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || seq < 1 {
			return fmt.Errorf("invalid version %q: want a positive integer", args[1])
		}
		ev, err := siteClient.Rollback(cmd.Context(), args[0], seq)
		if err != nil {
			return explain(err)
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), ev)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s rolled back to version %d = %s (version %d)\n",
			ui.RenderOK("✓"), ui.RenderAccent(ev.Key), seq, ev.Value, ev.Sequence)
		return nil
	},
}

func init() {
	listCmd.Flags().StringP("category", "c", "", "only list this category (pricing, dates, content, ...)")

	setCmd.Flags().StringP("type", "t", "", "value type; defaults to the key's current type, or text")
	setCmd.Flags().StringP("category", "c", "", "category for a new key")
	setCmd.Flags().String("description", "", "admin help text for a new key")
}
