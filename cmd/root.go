package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "saleslist",
	Short: "NG-company gate and enrichment accounting for the sales list",
	Long:  "Serves the project gate API, keeps client NG lists matched to companies, and runs budgeted AI enrichment with retry-strategy bookkeeping.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
