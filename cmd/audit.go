package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consent-audit/api/schemas"
	"github.com/xkilldash9x/consent-audit/internal/audit"
	"github.com/xkilldash9x/consent-audit/internal/browser"
	"github.com/xkilldash9x/consent-audit/internal/config"
	"github.com/xkilldash9x/consent-audit/internal/observability"
	"github.com/xkilldash9x/consent-audit/internal/store"
)

var (
	auditURL    string
	auditMode   string
	auditOutput string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run a consent audit against a URL",
	Long:  "Navigates the target twice in isolated browser contexts, exercises the requested consent path and emits the captured evidence as JSON.",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().StringVarP(&auditURL, "url", "u", "", "target URL to audit (required)")
	auditCmd.Flags().StringVarP(&auditMode, "mode", "m", "accept", "consent path to exercise: accept or reject")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", "", "write the JSON result to this file instead of stdout")
	_ = auditCmd.MarkFlagRequired("url")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.Get()
	logger := observability.GetLogger()
	defer observability.Sync()

	mode := schemas.PathMode(auditMode)
	if mode != schemas.PathAccept && mode != schemas.PathReject {
		return fmt.Errorf("invalid mode %q: must be accept or reject", auditMode)
	}

	manager, err := browser.NewManager(ctx, logger, cfg)
	if err != nil {
		resp := audit.ResponseFromStartupError(err)
		return emit(resp)
	}
	defer func() {
		if err := manager.Shutdown(ctx); err != nil {
			logger.Warn("Browser shutdown reported an error", zap.Error(err))
		}
	}()

	var sink audit.MetaSink
	if cfg.Postgres.URL != "" {
		st, err := store.Connect(ctx, logger, cfg.Postgres.URL)
		if err != nil {
			// Persistence is optional; run without it rather than abort.
			logger.Warn("Run-metadata store unavailable, continuing without persistence", zap.Error(err))
		} else {
			defer st.Close()
			sink = st
		}
	}

	runner := audit.NewRunner(logger, cfg, audit.NewBrowserAdapter(manager), sink)
	resp := runner.Run(ctx, schemas.AuditRequest{URL: auditURL, PathMode: mode})
	return emit(resp)
}

// emit writes the response envelope as indented JSON to the chosen output.
// The process exits zero even for unsuccessful audits; the envelope carries
// the error code.
func emit(resp schemas.AuditResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if auditOutput == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(auditOutput, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
