package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/ingest"
	"github.com/JakeFAU/archive-ingest/internal/metrics"
)

const pushTimeout = 10 * time.Second

// newIngestCmd creates the 'ingest' subcommand, which runs one ingestion per
// requested source.
func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [source-id...]",
		Short: "Ingests one or more sources",
		Long: `Runs the ingestion pipeline for each named source in turn, or for
every configured source when none is named. A failed source does not stop
the others; the command exits non-zero if any source failed. With a
Pushgateway configured, run metrics are pushed once every source is done.`,
		RunE: runIngestCommand,
	}
	cmd.Flags().Bool("refresh", false, "ignore cached pages and fetch everything again")
	cmd.Flags().Int("concurrency", 0, "entries processed in parallel per source")
	cmd.Flags().String("pushgateway", "", "Pushgateway URL that receives run metrics after ingest")
	return cmd
}

func runIngestCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	sources, err := selectSources(cfg.Sources, args)
	if err != nil {
		return err
	}

	r := appInstance.Runner()
	var errs []error
	for _, src := range sources {
		if err := cmd.Context().Err(); err != nil {
			errs = append(errs, err)
			break
		}
		profile, err := cfg.Profile(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		summary, err := r.Run(cmd.Context(), src, profile)
		t := summary.Totals
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tentries=%d captured=%d errored=%d assets=%d records=%d\n",
			src.ID, summary.Status, t.Entries, t.Captured, t.Errored, t.AssetsStored, t.CatalogRecords)
		if err != nil {
			logger.Error("source failed", zap.String("source", src.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
		}
	}
	pushMetrics(cmd.Context(), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, logger)
	return errors.Join(errs...)
}

// pushMetrics hands the run counters to a Pushgateway. A failed push is
// logged and never fails the command.
func pushMetrics(ctx context.Context, gateway, job string, logger *zap.Logger) {
	if gateway == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	defer cancel()
	if err := metrics.Push(ctx, gateway, job); err != nil {
		logger.Warn("metrics push failed", zap.String("gateway", gateway), zap.Error(err))
		return
	}
	logger.Info("metrics pushed", zap.String("gateway", gateway), zap.String("job", job))
}

// selectSources returns the configured sources named by ids, in the order
// given, or every source when ids is empty.
func selectSources(all []ingest.Source, ids []string) ([]ingest.Source, error) {
	if len(ids) == 0 {
		if len(all) == 0 {
			return nil, errors.New("no sources configured")
		}
		return all, nil
	}
	byID := make(map[string]ingest.Source, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	out := make([]ingest.Source, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, s)
	}
	return out, nil
}
