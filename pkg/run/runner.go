// Package run orchestrates a full export: account listing, per-account
// fan-out through the partitioning fetch engine, client-side window
// filtering, checkpointing, and delivery to the reporter.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cloudposture/checks-export/pkg/api"
	"github.com/cloudposture/checks-export/pkg/catalog"
	"github.com/cloudposture/checks-export/pkg/checkpoint"
	"github.com/cloudposture/checks-export/pkg/export"
	"github.com/cloudposture/checks-export/pkg/fetch"
	"github.com/cloudposture/checks-export/pkg/partition"
	"github.com/cloudposture/checks-export/pkg/pool"
	"github.com/cloudposture/checks-export/pkg/posture"
)

// Fatal pre-check errors; nothing per-account starts after these.
var (
	ErrNoAccounts = errors.New("no accounts retrieved")
)

// Lookback defaults. The API filters only by creation date, so both
// passes fetch a created-date superset and decide inclusion client-side.
const (
	// DefaultSuccessLookbackFactor widens the created-date window for
	// resolved checks: resolution date is unrelated to creation date, so
	// the fetch range must reach well past the reporting window. A
	// heuristic, not a guarantee; genuinely old resolutions can still be
	// missed.
	DefaultSuccessLookbackFactor = 10

	// DefaultFailureLookbackFactor covers failures discovered in-window
	// on checks created before it.
	DefaultFailureLookbackFactor = 2
)

// Config tunes one export run.
type Config struct {
	Days       int
	Statuses   []posture.Status
	RiskLevels []posture.RiskLevel

	PageSize int
	MaxPages int

	AccountWorkers int
	ServiceWorkers int
	Spacing        time.Duration

	SuccessLookbackFactor int
	FailureLookbackFactor int

	FilterBudget api.FilterBudget
}

func (c Config) withDefaults() Config {
	if c.Days <= 0 {
		c.Days = 30
	}
	if len(c.Statuses) == 0 {
		c.Statuses = []posture.Status{posture.StatusFailure, posture.StatusSuccess}
	}
	if len(c.RiskLevels) == 0 {
		c.RiskLevels = []posture.RiskLevel{posture.RiskHigh, posture.RiskVeryHigh, posture.RiskExtreme}
	}
	if c.AccountWorkers <= 0 {
		c.AccountWorkers = pool.DefaultAccountWorkers
	}
	if c.ServiceWorkers <= 0 {
		c.ServiceWorkers = pool.DefaultServiceWorkers
	}
	if c.Spacing <= 0 {
		c.Spacing = pool.DefaultSpacing
	}
	if c.SuccessLookbackFactor <= 0 {
		c.SuccessLookbackFactor = DefaultSuccessLookbackFactor
	}
	if c.FailureLookbackFactor <= 0 {
		c.FailureLookbackFactor = DefaultFailureLookbackFactor
	}
	if c.FilterBudget.MaxLen <= 0 {
		c.FilterBudget = api.DefaultFilterBudget()
	}
	return c
}

// Runner drives one export run end to end.
type Runner struct {
	client   *api.Client
	fetcher  partition.Fetcher
	catalog  *catalog.Catalog
	cp       *checkpoint.Checkpoint
	reporter *export.Reporter
	cfg      Config
	logger   zerolog.Logger
}

// New wires a runner from its collaborators.
func New(client *api.Client, fetcher partition.Fetcher, cat *catalog.Catalog,
	cp *checkpoint.Checkpoint, reporter *export.Reporter, cfg Config) *Runner {
	return &Runner{
		client:   client,
		fetcher:  fetcher,
		catalog:  cat,
		cp:       cp,
		reporter: reporter,
		cfg:      cfg.withDefaults(),
		logger:   log.With().Str("component", "runner").Logger(),
	}
}

// Run executes the export. The returned summary is valid even on error so
// an interrupted run can still report what completed. Account-level
// failures degrade the summary; only pre-check failures and context
// cancellation return an error.
func (r *Runner) Run(ctx context.Context) (export.RunSummary, error) {
	started := time.Now().UTC()
	window := posture.Window{
		Start: started.AddDate(0, 0, -r.cfg.Days),
		End:   started,
	}

	summary := export.RunSummary{
		SessionID:  r.cp.SessionID(),
		Window:     window,
		FetchFrom:  window.End.AddDate(0, 0, -r.cfg.Days*r.cfg.SuccessLookbackFactor),
		Statuses:   r.cfg.Statuses,
		RiskLevels: r.cfg.RiskLevels,
		Started:    started,
	}

	accounts, err := r.client.ListAccounts(ctx)
	if err != nil {
		return summary, fmt.Errorf("account listing failed: %w", err)
	}
	if len(accounts) == 0 {
		return summary, ErrNoAccounts
	}

	services := r.catalog.Services(ctx)
	stats := NewStats()

	r.logger.Info().
		Int("accounts", len(accounts)).
		Int("services", len(services)).
		Int("days", r.cfg.Days).
		Int("account_workers", r.cfg.AccountWorkers).
		Int("service_workers", r.cfg.ServiceWorkers).
		Msg("Starting export run")

	outer := pool.New(r.cfg.AccountWorkers, r.cfg.Spacing)
	tasks := make([]func(context.Context) (export.AccountSummary, error), len(accounts))
	for i, account := range accounts {
		account := account
		tasks[i] = func(ctx context.Context) (export.AccountSummary, error) {
			return r.runAccount(ctx, account, services, window, stats)
		}
	}

	results := pool.Run(ctx, outer, tasks)
	for i, res := range results {
		acc := res.Value
		if res.Err != nil {
			acc = export.AccountSummary{
				ID: accounts[i].ID, Name: accounts[i].Name,
				Provider: accounts[i].Provider, Failed: true,
			}
		}
		summary.Accounts = append(summary.Accounts, acc)
	}

	summary.Warnings = stats.Warnings()
	summary.Errors = stats.Errors()
	summary.Finished = time.Now().UTC()

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	r.logger.Info().
		Int("records", summary.TotalRecords()).
		Int("warnings", len(summary.Warnings)).
		Int("sub_errors", len(summary.Errors)).
		Dur("duration", summary.Finished.Sub(summary.Started)).
		Msg("Export run finished")
	return summary, nil
}

// runAccount processes one account: both status passes through the
// partitioner, window filtering, delivery, and checkpoint bookkeeping.
// An account already completed in the checkpoint is skipped outright.
func (r *Runner) runAccount(ctx context.Context, account posture.Account,
	services []string, window posture.Window, stats *Stats) (export.AccountSummary, error) {

	acc := export.AccountSummary{ID: account.ID, Name: account.Name, Provider: account.Provider}

	if r.cp.IsDone(account.ID) {
		r.logger.Info().Str("account", account.Name).Msg("Account already completed, skipping")
		acc.Skipped = true
		return acc, nil
	}

	inner := pool.New(r.cfg.ServiceWorkers, r.cfg.Spacing)
	partitioner := partition.New(r.fetcher, inner, r.cfg.FilterBudget, fetch.Options{
		PageSize: r.cfg.PageSize,
		MaxPages: r.cfg.MaxPages,
	})

	logger := r.logger.With().Str("account", account.Name).Logger()
	accountFailed := false

	for _, status := range r.cfg.Statuses {
		if err := ctx.Err(); err != nil {
			_ = r.cp.MarkFailed(account.ID)
			acc.Failed = true
			return acc, err
		}

		q := posture.Query{
			AccountID:  account.ID,
			Status:     status,
			RiskLevels: r.cfg.RiskLevels,
			From:       r.fetchFrom(status, window),
			To:         window.End,
		}
		dims := partition.DefaultDimensions(account.Provider, services, r.cfg.RiskLevels)

		outcome := partitioner.ResolveComplete(ctx, q, dims)
		stats.AddOutcome(outcome)

		included := 0
		for _, c := range outcome.Items {
			if !c.InWindow(window) {
				continue
			}
			r.reporter.Add(export.FlattenCheck(c, account))
			included++
		}
		switch status {
		case posture.StatusSuccess:
			acc.Resolved += included
		case posture.StatusFailure:
			acc.Failures += included
		}

		logger.Info().
			Str("status", string(status)).
			Int("fetched", len(outcome.Items)).
			Int("included", included).
			Int("warnings", len(outcome.Warnings)).
			Int("sub_errors", len(outcome.Errors)).
			Msg("Account status pass complete")

		// A pass that produced nothing but errors yielded no usable data.
		if len(outcome.Items) == 0 && len(outcome.Errors) > 0 {
			accountFailed = true
		}
	}

	if accountFailed {
		_ = r.cp.MarkFailed(account.ID)
		acc.Failed = true
		return acc, nil
	}

	if err := r.cp.MarkDone(account.ID, acc.Resolved+acc.Failures); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist checkpoint")
	}
	return acc, nil
}

// fetchFrom computes the widened created-date lookback for a status.
func (r *Runner) fetchFrom(status posture.Status, window posture.Window) time.Time {
	factor := r.cfg.FailureLookbackFactor
	if status == posture.StatusSuccess {
		factor = r.cfg.SuccessLookbackFactor
	}
	return window.End.AddDate(0, 0, -r.cfg.Days*factor)
}
