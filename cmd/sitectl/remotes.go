package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// RemotesConfig holds the named server profiles and which one is active.
type RemotesConfig struct {
	Active  string            `toml:"active"`
	Remotes map[string]Remote `toml:"remotes"`
}

// Remote is one livesite server the CLI can talk to.
type Remote struct {
	URL   string `toml:"url"`
	Token string `toml:"token,omitempty"`
}

// lookup returns the named remote, or the active one when name is empty.
func (c RemotesConfig) lookup(name string) (string, Remote, error) {
	if name == "" {
		name = c.Active
	}
	if name == "" {
		return "", Remote{}, errors.New("no active remote; pass a name or run 'sitectl remote use <name>'")
	}
	r, ok := c.Remotes[name]
	if !ok {
		return "", Remote{}, fmt.Errorf("remote %q not found", name)
	}
	return name, r, nil
}

func remotesPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".local", "state", "livesite")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "remotes.toml"), nil
}

func loadRemotes() (RemotesConfig, error) {
	cfg := RemotesConfig{Remotes: map[string]Remote{}}
	path, err := remotesPath()
	if err != nil {
		return cfg, err
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if cfg.Remotes == nil {
		cfg.Remotes = map[string]Remote{}
	}
	return cfg, nil
}

func saveRemotes(cfg RemotesConfig) error {
	path, err := remotesPath()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// activeRemote is read once per process for flag defaults.
var activeRemote = sync.OnceValue(func() Remote {
	cfg, err := loadRemotes()
	if err != nil {
		return Remote{}
	}
	_, r, err := cfg.lookup("")
	if err != nil {
		return Remote{}
	}
	return r
})

func activeRemoteURL() string   { return activeRemote().URL }
func activeRemoteToken() string { return activeRemote().Token }
