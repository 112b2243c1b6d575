package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/alfredjeanlab/livesite/internal/ui"
	"github.com/spf13/cobra"
)

var remoteCmd = &cobra.Command{
	Use:     "remote",
	Short:   "Manage named livesite servers",
	GroupID: "system",
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add or update a named remote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, url := args[0], args[1]
		token, _ := cmd.Flags().GetString("token")

		cfg, err := loadRemotes()
		if err != nil {
			return err
		}
		cfg.Remotes[name] = Remote{URL: url, Token: token}
		if cfg.Active == "" {
			cfg.Active = name
		}
		if err := saveRemotes(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q saved (%s)\n", name, url)
		return nil
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a named remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotes()
		if err != nil {
			return err
		}
		name, _, err := cfg.lookup(args[0])
		if err != nil {
			return err
		}
		delete(cfg.Remotes, name)
		if cfg.Active == name {
			cfg.Active = ""
		}
		if err := saveRemotes(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "remote %q removed\n", name)
		return nil
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remotes; the active one is marked with *",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotes()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(cfg.Remotes))
		for n := range cfg.Remotes {
			names = append(names, n)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		for _, n := range names {
			mark := " "
			if n == cfg.Active {
				mark = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\n", mark, n, cfg.Remotes[n].URL)
		}
		return w.Flush()
	},
}

var remoteUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Make a remote the default for later commands",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotes()
		if err != nil {
			return err
		}
		name, r, err := cfg.lookup(args[0])
		if err != nil {
			return err
		}
		cfg.Active = name
		if err := saveRemotes(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "using %s (%s)\n", ui.RenderAccent(name), r.URL)
		return nil
	},
}

var remoteShowCmd = &cobra.Command{
	Use:   "show [<name>]",
	Short: "Show a remote (defaults to the active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRemotes()
		if err != nil {
			return err
		}
		var want string
		if len(args) == 1 {
			want = args[0]
		}
		name, r, err := cfg.lookup(want)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		suffix := ""
		if name == cfg.Active {
			suffix = " (active)"
		}
		fmt.Fprintf(w, "name:\t%s%s\n", name, suffix)
		fmt.Fprintf(w, "url:\t%s\n", r.URL)
		if r.Token != "" {
			fmt.Fprintf(w, "token:\t%s\n", maskToken(r.Token))
		}
		return w.Flush()
	},
}

// maskToken keeps the first four characters of a token.
func maskToken(tok string) string {
	if len(tok) <= 4 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", len(tok)-4)
}

func init() {
	remoteAddCmd.Flags().String("token", "", "admin bearer token for this server")

	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteListCmd, remoteUseCmd, remoteShowCmd)
}
