package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/haulbook-dev/haulbook/internal/report"
)

func newReportCommand(run runFunc) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export an XLSX workbook of orders, balances and party payments",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			path := out
			if path == "" {
				path = filepath.Join(a.root, "exports", "haulbook-"+time.Now().Format(dateLayout)+".xlsx")
			}
			r, err := report.Collect(ctx, a.orders, a.payments, a.evaluator)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("creating export dir: %w", err)
			}
			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("creating %s: %w", path, err)
			}
			if err := r.Write(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d order rows)\n", path, len(r.Rows))
			return nil
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default exports/haulbook-<date>.xlsx)")
	return cmd
}
