package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/config"
	"github.com/haulbook-dev/haulbook/internal/counterparty"
	"github.com/haulbook-dev/haulbook/internal/gitops"
)

func newInitCommand() *cobra.Command {
	var name string
	var backend string
	var noGit bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new haulbook data directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			hash, err := runInit(absDir, name, backend, !noGit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if hash != "" {
				fmt.Fprintf(out, "Initialized haulbook at %s (%s)\n", absDir, hash)
			} else {
				fmt.Fprintf(out, "Initialized haulbook at %s\n", absDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "business name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&backend, "storage", config.BackendFile, "storage backend: file, memory or postgres")
	cmd.Flags().BoolVar(&noGit, "no-git", false, "do not create a git repository")

	return cmd
}

func runInit(dir, name, backend string, withGit bool) (string, error) {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return "", fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking %s: %w", cfgPath, err)
	}

	for _, d := range []string{"data", "directory", "logs", "exports"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return "", fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	cfg := config.Default(name)
	cfg.Storage.Backend = backend
	cfg.Git.AutoCommit = withGit
	if err := cfg.Validate(); err != nil {
		// A postgres DSN may still arrive through .env.
		if backend != config.BackendPostgres {
			return "", err
		}
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return "", fmt.Errorf("writing config: %w", err)
	}

	if err := counterparty.NewService(nil).Save(dir); err != nil {
		return "", fmt.Errorf("writing counterparty directory: %w", err)
	}

	gitignore := ".env\nexports/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return "", fmt.Errorf("writing .gitignore: %w", err)
	}

	if !withGit {
		return "", nil
	}
	if err := gitops.Init(dir); err != nil {
		return "", err
	}
	hash, err := gitops.CommitAll(dir, "init: Initialize "+name, cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	if err != nil {
		return "", fmt.Errorf("initial commit: %w", err)
	}
	return hash, nil
}
