// Command sitectl runs the livesite server and edits site content against it.
package main

import (
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/alfredjeanlab/livesite/internal/client"
	"github.com/alfredjeanlab/livesite/internal/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	authToken  string
	jsonOutput bool
	actor      string
	timeout    time.Duration

	siteClient *client.HTTPClient
)

func defaultActor() string {
	out, err := exec.Command("git", "config", "user.name").Output()
	if err == nil {
		name := strings.TrimSpace(string(out))
		if name != "" {
			return name
		}
	}
	return "admin"
}

func defaultServerURL() string {
	if s := os.Getenv("LIVESITE_URL"); s != "" {
		return s
	}
	if u := activeRemoteURL(); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func defaultToken() string {
	if s := os.Getenv("LIVESITE_TOKEN"); s != "" {
		return s
	}
	return activeRemoteToken()
}

var rootCmd = &cobra.Command{
	Use:          "sitectl <command>",
	Short:        "Live content sync and versioning for the site",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.Init()
		siteClient = client.NewHTTPClient(serverURL,
			client.WithToken(authToken),
			client.WithActor(actor),
			client.WithTimeout(timeout),
		)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if siteClient != nil {
			siteClient.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", defaultServerURL(), "livesite server URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultToken(), "admin bearer token")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "editor name recorded in history")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")

	rootCmd.AddGroup(
		&cobra.Group{ID: "content", Title: "Content:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	cobra.EnableCommandSorting = false
	rootCmd.SetHelpFunc(colorizedHelpFunc())

	// Content
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(seedCmd)

	// Sync
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(watchCmd)

	// System
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(remoteCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
