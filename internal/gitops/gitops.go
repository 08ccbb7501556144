// Package gitops versions a haulbook data directory with the git CLI.
package gitops

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrNothingToCommit is returned by CommitAll when the work tree is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// Init creates a git repository at dir.
func Init(dir string) error {
	if out, err := git(dir, "init", "--quiet"); err != nil {
		return fmt.Errorf("git init: %s: %w", out, err)
	}
	return nil
}

// CommitAll stages every change under dir and commits it with the given
// author. It returns the short hash of the new commit.
func CommitAll(dir, message, authorName, authorEmail string) (string, error) {
	status, err := git(dir, "status", "--porcelain")
	if err != nil {
		return "", fmt.Errorf("git status: %s: %w", status, err)
	}
	if strings.TrimSpace(status) == "" {
		return "", ErrNothingToCommit
	}

	if out, err := git(dir, "add", "-A"); err != nil {
		return "", fmt.Errorf("git add: %s: %w", out, err)
	}

	author := fmt.Sprintf("%s <%s>", authorName, authorEmail)
	if out, err := gitEnv(dir, committerFallback(dir), "commit", "--quiet", "-m", message, "--author", author); err != nil {
		return "", fmt.Errorf("git commit: %s: %w", out, err)
	}

	out, err := git(dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %s: %w", out, err)
	}
	return strings.TrimSpace(out), nil
}

// IsRepo reports whether dir is the root of a git repository.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// committerFallback returns committer variables for the parts of the
// identity that neither git config nor the environment provide.
func committerFallback(dir string) []string {
	var env []string
	if !configured(dir, "user.name", "GIT_COMMITTER_NAME") {
		env = append(env, "GIT_COMMITTER_NAME=haulbook")
	}
	if !configured(dir, "user.email", "GIT_COMMITTER_EMAIL") {
		env = append(env, "GIT_COMMITTER_EMAIL=haulbook@localhost")
	}
	return env
}

func configured(dir, key, envVar string) bool {
	if os.Getenv(envVar) != "" {
		return true
	}
	out, err := git(dir, "config", "--get", key)
	return err == nil && strings.TrimSpace(out) != ""
}

func git(dir string, args ...string) (string, error) {
	return gitEnv(dir, nil, args...)
}

func gitEnv(dir string, env []string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	out, err := cmd.CombinedOutput()
	return string(out), err
}
