package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// GitDestination commits the export into an existing local clone and pushes
// it. Identical payloads produce no commit.
type GitDestination struct {
	repo   string
	file   string
	branch string
}

// NewGitDestination writes file (relative to repo) on branch.
func NewGitDestination(repo, file, branch string) *GitDestination {
	return &GitDestination{repo: repo, file: file, branch: branch}
}

func (d *GitDestination) Name() string {
	return "git:" + filepath.Join(d.repo, d.file)
}

func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if _, err := d.git(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// Fails harmlessly when the remote has no such branch yet.
	_, _ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := d.git(ctx, "add", "--", d.file); err != nil {
		return err
	}

	status, err := d.git(ctx, "status", "--porcelain", "--", d.file)
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}

	msg := "livesite: content export " + time.Now().UTC().Format(time.RFC3339)
	if _, err := d.git(ctx, "-c", "user.name=livesite", "-c", "user.email=livesite@localhost", "commit", "-m", msg, "--", d.file); err != nil {
		return err
	}
	_, err = d.git(ctx, "push", "origin", d.branch)
	return err
}

// git runs a git subcommand in the clone and returns its trimmed stdout.
// Failures include stderr in the error.
func (d *GitDestination) git(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
