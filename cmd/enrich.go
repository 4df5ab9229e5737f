package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/cost"
	"github.com/sells-group/saleslist/internal/enrich"
	"github.com/sells-group/saleslist/internal/model"
	"github.com/sells-group/saleslist/internal/monitoring"
	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/pkg/perplexity"
)

var (
	enrichLimit     int
	enrichCompanyID int64
	enrichStatus    string
	enrichStrategy  string
	enrichReason    string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run AI enrichment and manage retry strategies",
}

var enrichRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich queued companies within the monthly budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}
		ctx := cmd.Context()

		rates, err := loadRates(cfg.Pricing, pricingFile)
		if err != nil {
			return err
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracker, closeTracker, err := initTracker(ctx, cfg.Usage)
		if err != nil {
			return err
		}
		defer closeTracker()

		client := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		runner := enrich.NewRunner(st, client, cost.NewCalculator(rates), tracker, enrich.Config{
			Model:             cfg.Perplexity.Model,
			SearchContextSize: cost.ContextSize(cfg.Perplexity.SearchContextSize),
			RequestsPerSecond: cfg.Perplexity.RequestsPerSecond,
		})

		res, err := runner.Run(ctx, enrichLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var enrichSetStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Record an enrichment outcome for one company",
	Long:  "Records a status and the retry strategy for the next attempt. The strategy comes from --strategy, or is derived from a no-data --reason.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		c, err := setStatus(ctx, st, enrichCompanyID, enrichStatus, enrichStrategy, enrichReason, time.Now())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), c)
	},
}

var enrichSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print enrichment status and strategy counts with monthly usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tracker, closeTracker, err := initTracker(ctx, cfg.Usage)
		if err != nil {
			return err
		}
		defer closeTracker()

		snap, err := monitoring.NewCollector(st, tracker).Collect(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), snap)
	},
}

// resolveOutcome turns the set-status flags into an outcome. Without a
// strategy or reason, success and partial clear the strategy, skipped keeps
// current, and failed is rejected.
func resolveOutcome(status, strategy, reason string, current model.RetryStrategy, now time.Time) (store.EnrichmentOutcome, error) {
	o := store.EnrichmentOutcome{Status: model.EnrichmentStatus(status)}
	if o.Status == model.EnrichmentStatusNone || !o.Status.Valid() {
		return o, eris.Errorf("invalid status %q", status)
	}
	if strategy != "" && reason != "" {
		return o, eris.New("--strategy and --reason are mutually exclusive")
	}

	switch {
	case strategy != "":
		o.NextStrategy = model.RetryStrategy(strategy)
		if !o.NextStrategy.Valid() {
			return o, eris.Errorf("invalid strategy %q", strategy)
		}
	case reason != "":
		r := enrich.NoDataReason(reason)
		if !r.Known() {
			return o, eris.Errorf("unknown reason %q", reason)
		}
		o.NextStrategy = r.Strategy()
	default:
		switch o.Status {
		case model.EnrichmentStatusSuccess, model.EnrichmentStatusPartial:
			o.NextStrategy = model.RetryStrategyNone
		case model.EnrichmentStatusSkipped:
			o.NextStrategy = current
		default:
			return o, eris.New("a failed status needs --strategy or --reason")
		}
	}

	if o.Status != model.EnrichmentStatusSkipped {
		o.EnrichedAt = now
	}
	return o, nil
}

func setStatus(ctx context.Context, st store.Store, companyID int64, status, strategy, reason string, now time.Time) (*model.Company, error) {
	c, err := st.GetCompany(ctx, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "company %d", companyID)
	}

	o, err := resolveOutcome(status, strategy, reason, c.NextRetryStrategy, now)
	if err != nil {
		return nil, err
	}
	if err := st.RecordEnrichmentOutcome(ctx, companyID, o); err != nil {
		return nil, err
	}

	zap.L().Info("enrichment outcome recorded",
		zap.Int64("company_id", companyID),
		zap.String("status", string(o.Status)),
		zap.String("next_retry_strategy", string(o.NextStrategy)),
	)
	return st.GetCompany(ctx, companyID)
}

func init() {
	enrichRunCmd.Flags().IntVar(&enrichLimit, "limit", 100, "max companies to enrich")
	enrichRunCmd.Flags().StringVar(&pricingFile, "pricing", "", "YAML pricing table merged over the configured rates")

	enrichSetStatusCmd.Flags().Int64Var(&enrichCompanyID, "company", 0, "company id")
	enrichSetStatusCmd.Flags().StringVar(&enrichStatus, "status", "", "success, partial, failed or skipped")
	enrichSetStatusCmd.Flags().StringVar(&enrichStrategy, "strategy", "", "next retry strategy")
	enrichSetStatusCmd.Flags().StringVar(&enrichReason, "reason", "", "no-data reason the strategy is derived from")
	_ = enrichSetStatusCmd.MarkFlagRequired("company")
	_ = enrichSetStatusCmd.MarkFlagRequired("status")

	enrichCmd.AddCommand(enrichRunCmd, enrichSetStatusCmd, enrichSummaryCmd)
	rootCmd.AddCommand(enrichCmd)
}
