// checks-export queries the cloud posture API for compliance checks
// across every managed account and exports them to CSV/XLSX, working
// around the API's 10,000-result ceiling and creation-date-only filtering.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudposture/checks-export/pkg/api"
	"github.com/cloudposture/checks-export/pkg/catalog"
	"github.com/cloudposture/checks-export/pkg/checkpoint"
	"github.com/cloudposture/checks-export/pkg/export"
	"github.com/cloudposture/checks-export/pkg/fetch"
	"github.com/cloudposture/checks-export/pkg/logging"
	"github.com/cloudposture/checks-export/pkg/posture"
	"github.com/cloudposture/checks-export/pkg/run"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checks-export",
		Short: "Export cloud posture checks to CSV/XLSX",
		Long: `Exports pass/fail compliance checks for every managed cloud account.
The API caps any filtered query at 10,000 results and can only filter by
creation date; the export partitions queries by service, risk level and
region to stay under the cap, and applies resolved/failing-in-window
filtering client-side.`,
		SilenceUsage: true,
		RunE:         runExport,
	}

	flags := cmd.Flags()
	flags.String("token", "", "API bearer token (or TMV1_TOKEN env var)")
	flags.String("api-base", api.DefaultBaseURL, "API base URL")
	flags.Int("days", 30, "Reporting window in days back from now")
	flags.Int("top", api.MaxPageSize, "Page size (50-200)")
	flags.StringSlice("statuses", []string{"FAILURE", "SUCCESS"}, "Check statuses to export")
	flags.StringSlice("risk-levels", []string{"HIGH", "VERY_HIGH", "EXTREME"}, "Risk levels to include")
	flags.String("outfile", "cloud_posture_checks.csv", "CSV output file")
	flags.String("xlsx", "", "XLSX output file (optional)")
	flags.Int("account-workers", 0, "Concurrent accounts (default 5)")
	flags.Int("service-workers", 0, "Concurrent partitions per account (default 10)")
	flags.Int("max-retries", api.DefaultMaxRetries, "Retry attempts per page request")
	flags.Int("max-pages", fetch.DefaultMaxPages, "Page budget per sub-query")
	flags.Int("success-lookback-factor", run.DefaultSuccessLookbackFactor,
		"Created-date lookback multiplier for resolved checks")
	flags.Bool("resume", false, "Resume the session given by --session")
	flags.String("session", "", "Session ID (generated when empty)")
	flags.String("state-dir", defaultStateDir(), "Checkpoint directory")
	flags.String("redis-addr", "", "Optional redis address for the catalog cache")
	flags.String("metrics-addr", "", "Optional listen address for /metrics and /health")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-pretty", false, "Human-readable log output")

	viper.SetEnvPrefix("TMV1")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(viper.GetString("log-level")),
		Pretty: viper.GetBool("log-pretty"),
	})
	logger := logging.NewLogger("checks-export")

	token := viper.GetString("token")
	if token == "" {
		return api.ErrMissingToken
	}

	statuses, err := parseStatuses(viper.GetStringSlice("statuses"))
	if err != nil {
		return err
	}
	riskLevels, err := parseRiskLevels(viper.GetStringSlice("risk-levels"))
	if err != nil {
		return err
	}

	client, err := api.New(api.Config{
		BaseURL: viper.GetString("api-base"),
		Token:   token,
	})
	if err != nil {
		return err
	}

	cp, err := openCheckpoint()
	if err != nil {
		return err
	}

	var cache *catalog.Cache
	if addr := viper.GetString("redis-addr"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("addr", addr).Msg("Redis unavailable, catalog cache disabled")
		} else {
			cache = catalog.NewCache(rdb, catalog.DefaultCacheTTL)
		}
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		go serveMetrics(addr)
		logger.Info().Str("addr", addr).Msg("Serving metrics")
	}

	backoff := api.NewBackoff(viper.GetInt("max-retries"))
	fetcher := fetch.New(client, backoff)
	reporter := export.NewReporter(export.DefaultBatchSize)

	runner := run.New(client, fetcher, catalog.New(client, cache), cp, reporter, run.Config{
		Days:                  viper.GetInt("days"),
		Statuses:              statuses,
		RiskLevels:            riskLevels,
		PageSize:              viper.GetInt("top"),
		MaxPages:              viper.GetInt("max-pages"),
		AccountWorkers:        viper.GetInt("account-workers"),
		ServiceWorkers:        viper.GetInt("service-workers"),
		SuccessLookbackFactor: viper.GetInt("success-lookback-factor"),
	})

	// An interrupt abandons in-flight requests; completed work is already
	// checkpointed, so the run can resume with --resume --session.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, runErr := runner.Run(ctx)

	if runErr != nil {
		if flushErr := cp.Flush(); flushErr != nil {
			logger.Error().Err(flushErr).Msg("Checkpoint flush failed")
		}
		if errors.Is(runErr, context.Canceled) {
			logger.Warn().
				Str("session_id", cp.SessionID()).
				Msg("Interrupted; resume with --resume --session")
			return fmt.Errorf("run interrupted (session %s)", cp.SessionID())
		}
		return runErr
	}

	if err := reporter.WriteCSV(viper.GetString("outfile")); err != nil {
		return err
	}
	if path := viper.GetString("xlsx"); path != "" {
		if err := reporter.WriteXLSX(path, summary); err != nil {
			return err
		}
	}
	reporter.PrintSummary(cmd.OutOrStdout(), summary)

	anyFailed := false
	for _, a := range summary.Accounts {
		if a.Failed {
			anyFailed = true
		}
	}
	if anyFailed {
		logger.Warn().
			Str("session_id", cp.SessionID()).
			Msg("Some accounts failed; checkpoint kept for resume")
		return fmt.Errorf("run completed with failed accounts (session %s)", cp.SessionID())
	}

	if err := cp.Clear(); err != nil {
		logger.Warn().Err(err).Msg("Failed to clear checkpoint")
	}
	return nil
}

func openCheckpoint() (*checkpoint.Checkpoint, error) {
	stateDir := viper.GetString("state-dir")
	session := viper.GetString("session")
	if viper.GetBool("resume") {
		if session == "" {
			return nil, fmt.Errorf("--resume requires --session")
		}
		return checkpoint.Load(stateDir, session)
	}
	return checkpoint.New(stateDir, session)
}

func parseStatuses(raw []string) ([]posture.Status, error) {
	out := make([]posture.Status, 0, len(raw))
	for _, s := range raw {
		status, ok := posture.ParseStatus(s)
		if !ok {
			return nil, fmt.Errorf("unknown status %q (want SUCCESS or FAILURE)", s)
		}
		out = append(out, status)
	}
	return out, nil
}

func parseRiskLevels(raw []string) ([]posture.RiskLevel, error) {
	out := make([]posture.RiskLevel, 0, len(raw))
	for _, s := range raw {
		level, ok := posture.ParseRiskLevel(s)
		if !ok {
			return nil, fmt.Errorf("unknown risk level %q", s)
		}
		out = append(out, level)
	}
	return out, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	_ = http.ListenAndServe(addr, mux)
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/checks-export"
	}
	return ".checks-export"
}
