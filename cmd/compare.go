// -- cmd/compare.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/browser"
	"github.com/parityscan/parity-cli/internal/compare"
	"github.com/parityscan/parity-cli/internal/extract/figma"
	"github.com/parityscan/parity-cli/internal/extract/web"
	"github.com/parityscan/parity-cli/internal/faults"
	"github.com/parityscan/parity-cli/internal/history"
	"github.com/parityscan/parity-cli/internal/observability"
	"github.com/parityscan/parity-cli/internal/orchestrator"
	"github.com/parityscan/parity-cli/internal/reporting"
)

var (
	flagDesignTimeout time.Duration
	flagWebTimeout    time.Duration
	flagFormat        string
	flagOutDir        string
	flagChunkSize     int
	flagAuthMode      string
	flagAuthToken     string
	flagAuthUser      string
	flagAuthPass      string
	flagAuthSecret    string
)

var compareCmd = &cobra.Command{
	Use:   "compare <design-url> <web-url>",
	Short: "Extract both snapshots, diff them, and write a report.",
	Args:  cobra.ExactArgs(2),
	RunE:  runCompare,
}

func init() {
	compareCmd.Flags().DurationVar(&flagDesignTimeout, "design-timeout", 0, "override the design extraction timeout")
	compareCmd.Flags().DurationVar(&flagWebTimeout, "web-timeout", 0, "override the web extraction timeout")
	compareCmd.Flags().StringVar(&flagFormat, "format", "", "report format: json, html or xml")
	compareCmd.Flags().StringVar(&flagOutDir, "out", "", "report output directory")
	compareCmd.Flags().IntVar(&flagChunkSize, "chunk-size", 0, "report serialization chunk size in bytes")
	compareCmd.Flags().StringVar(&flagAuthMode, "auth-mode", "", "page auth mode: basic, bearer or jwt")
	compareCmd.Flags().StringVar(&flagAuthToken, "auth-token", "", "bearer token for page auth")
	compareCmd.Flags().StringVar(&flagAuthUser, "auth-user", "", "username for basic page auth")
	compareCmd.Flags().StringVar(&flagAuthPass, "auth-pass", "", "password for basic page auth")
	compareCmd.Flags().StringVar(&flagAuthSecret, "auth-secret", "", "signing secret for jwt page auth")
	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	logger := observability.GetLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := browser.NewTracker()
	pool := browser.NewPool(cfg.Pool, browser.NewChromeLauncher(logger), tracker, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Pool shutdown reported errors", zap.Error(err))
		}
	}()

	var hist *history.Store
	if cfg.History.DSN != "" {
		var err error
		hist, err = history.Connect(ctx, cfg.History.DSN, logger)
		if err != nil {
			logger.Warn("Run history disabled: database unavailable", zap.Error(err))
		}
	}

	orch, err := orchestrator.New(
		cfg,
		logger,
		pool,
		figma.NewClient(cfg.Figma, logger),
		web.NewExtractor(cfg.Web, logger),
		compare.NewEngine(cfg.Compare, logger),
		reporting.NewGenerator(cfg.Report, logger),
		hist,
	)
	if err != nil {
		return err
	}

	req := schemas.ComparisonRequest{
		DesignURL:     args[0],
		WebURL:        args[1],
		DesignTimeout: flagDesignTimeout,
		WebTimeout:    flagWebTimeout,
		Auth:          authFromFlags(),
	}
	opts := orchestrator.Options{
		Report: schemas.ReportOptions{
			Format:    flagFormat,
			OutDir:    flagOutDir,
			ChunkSize: flagChunkSize,
		},
	}

	result, err := orch.RunComparison(ctx, req, opts)
	if err != nil {
		if ce := faults.AsClassified(err); ce != nil {
			msg := ce.UserFacing()
			fmt.Printf("\n%s\n%s\n-> %s\n", msg.Title, msg.Description, msg.Action)
		}
		return err
	}

	fmt.Printf("Parity score: %.0f%%\n", result.Diff.Score*100)
	fmt.Printf("Matched %d, mismatched %d, missing %d, unexpected %d\n",
		len(result.Diff.Matches), result.Diff.MismatchCount(),
		len(result.Diff.Missing), len(result.Diff.Unexpected))
	fmt.Printf("Report: %s\n", result.Report.Path)
	return nil
}

func authFromFlags() *schemas.AuthConfig {
	if flagAuthMode == "" {
		return nil
	}
	return &schemas.AuthConfig{
		Mode:     flagAuthMode,
		Username: flagAuthUser,
		Password: flagAuthPass,
		Token:    flagAuthToken,
		Secret:   flagAuthSecret,
	}
}
