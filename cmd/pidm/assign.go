package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/scieloorg/pidmanager/internal/aop"
	"github.com/scieloorg/pidmanager/internal/batch"
	"github.com/scieloorg/pidmanager/internal/config"
	"github.com/scieloorg/pidmanager/internal/logbook"
	"github.com/scieloorg/pidmanager/internal/sps"
)

var (
	assignISSN      string
	assignYearOrder string
	assignLogbook   string
	assignNoPDF     bool
)

func init() {
	assignCmd.Flags().StringVar(&assignISSN, "issn", "", "Journal ISSN used to build missing v2 ids")
	assignCmd.Flags().StringVar(&assignYearOrder, "year-order", "", "Issue year followed by its order in the year (e.g. 20095)")
	assignCmd.Flags().StringVar(&assignLogbook, "logbook", "", "Write the run logbook to this file")
	assignCmd.Flags().BoolVar(&assignNoPDF, "no-pdf", false, "Do not read DOIs from PDF renditions")
	rootCmd.AddCommand(assignCmd)
}

var assignCmd = &cobra.Command{
	Use:   "assign <package-dir>",
	Short: "Resolve and write identifiers for every XML in a package",
	Long: `Resolve the v2, v3 and previous-pid identifiers of every article XML
in a package folder and write them into the files.

Documents are retried until all are resolved. If the retry budget runs
out the command exits with code 4 and reports the unresolved documents.

Examples:
  pidm assign ./pkg --issn 3456-0987 --year-order 20095
  pidm assign ./pkg --human --logbook run.log`,
	Args: cobra.ExactArgs(1),
	RunE: runAssign,
}

func runAssign(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()
	logger := newLogger()
	dir := args[0]

	loader := &sps.Loader{PDFFallback: cfg.PDFFallback && !assignNoPDF, Logger: logger}
	b, err := loader.Load(dir)
	if err != nil {
		exitWithError(ExitDataError, "%v", err)
	}

	book, err := openLogbook(cfg, dir)
	if err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if err := ensureParentDir(cfg.DB); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}

	o := &batch.Orchestrator{
		Open:     batch.OpenSQLite(cfg.DB, registryOptions(cfg, logger)...),
		Previous: previousResolver(cfg, logger),
		Logger:   logger,
		Book:     book,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := o.Run(ctx, b, batch.Params{ISSN: assignISSN, YearAndOrder: assignYearOrder})
	var exhausted *batch.ExhaustedError
	if errors.As(err, &exhausted) {
		if humanOutput {
			fmt.Fprintf(os.Stderr, "error: %v\n", exhausted)
			printResultsHuman(exhausted.Results)
		} else {
			outputJSON(exhausted)
		}
		os.Exit(ExitBatchExhausted)
	}
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		outputHuman("Resolved %d documents in %d passes\n", report.Resolved, report.Passes)
		printResultsHuman(report.Results)
		if report.Logbook != "" {
			outputHuman("Logbook: %s\n", report.Logbook)
		}
		return nil
	}
	return outputJSON(report)
}

func printResultsHuman(results map[string]*batch.DocResult) {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := results[name]
		written := ""
		if res.Written {
			written = fmt.Sprintf(" (%d fields written)", len(res.Writes))
		}
		outputHuman("  %-8s %-20s %s%s\n", res.Status, name, res.LongID, written)
		if res.Error != "" {
			outputHuman("           %s\n", res.Error)
		}
		for _, w := range res.Warnings {
			outputHuman("           warning: %s\n", w)
		}
	}
}

// openLogbook returns the run's logbook: --logbook, else a timestamped file in
// the configured log directory, else none.
func openLogbook(cfg *config.Config, dir string) (*logbook.Logbook, error) {
	path := logbookPath(assignLogbook, cfg.LogDir, dir, time.Now())
	if path == "" {
		return nil, nil
	}
	return logbook.New(path)
}

func logbookPath(explicit, logDir, pkgDir string, now time.Time) string {
	if explicit != "" {
		return explicit
	}
	if logDir == "" {
		return ""
	}
	name := filepath.Base(filepath.Clean(pkgDir))
	return filepath.Join(logDir, fmt.Sprintf("%s-%s.log", name, now.UTC().Format("20060102T150405Z")))
}

// previousResolver chains the configured ahead-of-print sources, cheapest
// first. It returns nil when none are configured.
func previousResolver(cfg *config.Config, logger *slog.Logger) aop.Resolver {
	var chain aop.Chain
	if cfg.AOP.Index != "" {
		idx, err := aop.LoadIndex(cfg.AOP.Index)
		if err != nil {
			exitWithError(ExitConfigError, "loading aop index: %v", err)
		}
		logger.Debug("aop index loaded", "path", cfg.AOP.Index, "keys", idx.Len())
		chain = append(chain, idx)
	}
	if cfg.AOP.SSHHost != "" {
		chain = append(chain, aop.NewSSHSource(cfg.AOP.SSHHost, cfg.AOP.SSHCommand))
	}
	if cfg.AOP.URL != "" {
		var opts []aop.ClientOption
		if cfg.AOP.RateLimit > 0 {
			opts = append(opts, aop.WithRateLimit(cfg.AOP.RateLimit))
		}
		chain = append(chain, aop.NewClient(cfg.AOP.URL, opts...))
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}
