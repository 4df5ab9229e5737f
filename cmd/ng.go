package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/ngimport"
	"github.com/sells-group/saleslist/internal/ngmatch"
	"github.com/sells-group/saleslist/internal/store"
)

var (
	ngClientID   int64
	ngImportFile string
)

var ngCmd = &cobra.Command{
	Use:   "ng",
	Short: "Maintain client NG lists",
}

var ngMatchCmd = &cobra.Command{
	Use:   "match",
	Short: "Bind unmatched NG entries to companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("match"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := runMatch(ctx, newMatcher(st), ngClientID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var ngImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a CSV or XLSX NG list for a client",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("match"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := importNGFile(ctx, st, newMatcher(st), ngClientID, ngImportFile)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

// importSummary mirrors the import endpoint's response.
type importSummary struct {
	Imported  int `json:"imported_count"`
	Skipped   int `json:"skipped_count"`
	Matched   int `json:"matched_count"`
	Unmatched int `json:"unmatched_count"`
}

func newMatcher(st store.Store) *ngmatch.Matcher {
	return ngmatch.New(st,
		ngmatch.WithWorkers(cfg.Matcher.Workers),
		ngmatch.WithRetryAttempts(cfg.Matcher.RetryAttempts),
	)
}

// runMatch runs a pass over one client, or all clients when clientID is 0.
func runMatch(ctx context.Context, m *ngmatch.Matcher, clientID int64) (ngmatch.Result, error) {
	if clientID > 0 {
		return m.MatchClient(ctx, clientID)
	}
	return m.MatchAll(ctx)
}

func importNGFile(ctx context.Context, st store.Store, m *ngmatch.Matcher, clientID int64, path string) (*importSummary, error) {
	if _, err := st.GetClient(ctx, clientID); err != nil {
		return nil, eris.Wrapf(err, "client %d", clientID)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rows, err := ngimport.Parse(path, f)
	if err != nil {
		return nil, err
	}

	imported, skipped, err := st.ImportNGEntries(ctx, clientID, rows)
	if err != nil {
		return nil, err
	}

	res, err := m.MatchClient(ctx, clientID)
	if err != nil {
		return nil, err
	}

	zap.L().Info("ng list imported",
		zap.Int64("client_id", clientID),
		zap.String("file", path),
		zap.Int("imported", imported),
		zap.Int("skipped", skipped),
		zap.Int("matched", res.Matched),
	)
	return &importSummary{
		Imported:  imported,
		Skipped:   skipped,
		Matched:   res.Matched,
		Unmatched: res.Unmatched + res.Ambiguous,
	}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	ngMatchCmd.Flags().Int64Var(&ngClientID, "client", 0, "limit the pass to one client id (default all)")

	ngImportCmd.Flags().Int64Var(&ngClientID, "client", 0, "client id that owns the list")
	ngImportCmd.Flags().StringVar(&ngImportFile, "file", "", "path to a .csv or .xlsx file")
	_ = ngImportCmd.MarkFlagRequired("client")
	_ = ngImportCmd.MarkFlagRequired("file")

	ngCmd.AddCommand(ngMatchCmd, ngImportCmd)
	rootCmd.AddCommand(ngCmd)
}
