package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/observability"
	"github.com/xkilldash9x/phishscope/internal/pipeline"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// safeThreatType marks a caller-supplied report as clean.
const safeThreatType = "SAFE"

// newScanCmd creates and configures the `scan` command.
func newScanCmd() *cobra.Command {
	var (
		threat   string
		asJSON   bool
		callerID string
		feed     bool
	)

	scanCmd := &cobra.Command{
		Use:   "scan [urls...]",
		Short: "Scores one or more URLs for phishing risk",
		Long: `Runs every analyzer against each URL under a local session and prints the verdict.
The exit status is non-zero if any URL is judged to be phishing.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("feed") {
				cfg.SetThreatFeedEnabled(feed)
			}

			components, err := newComponentFactory().Create(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			token, err := components.Sessions.Create(callerID)
			if err != nil {
				return fmt.Errorf("failed to open local session: %w", err)
			}
			defer components.Sessions.Revoke(token)

			report := threatReportFromFlag(threat)
			out := cmd.OutOrStdout()
			phishing := 0
			for _, raw := range args {
				verdict, err := components.Pipeline.Evaluate(ctx, pipeline.Request{
					SessionToken: token,
					URL:          raw,
					ThreatReport: report,
				})
				if err != nil {
					var rejected *pipeline.RejectedError
					if errors.As(err, &rejected) {
						logger.Warn("Scan rejected", zap.String("url", raw), zap.Error(err))
					}
					return err
				}
				if verdict.IsPhishing {
					phishing++
				}
				if err := printVerdict(out, verdict, asJSON); err != nil {
					return err
				}
			}

			if phishing > 0 {
				return fmt.Errorf("%d of %d URLs judged to be phishing", phishing, len(args))
			}
			return nil
		},
	}

	scanCmd.Flags().StringVar(&threat, "threat", "", "Threat-feed verdict to apply to every URL (e.g. MALWARE, SOCIAL_ENGINEERING, or SAFE)")
	scanCmd.Flags().BoolVar(&asJSON, "json", false, "Print verdicts as JSON lines")
	scanCmd.Flags().StringVar(&callerID, "caller", "cli", "Caller identity recorded in the audit log")
	scanCmd.Flags().BoolVar(&feed, "feed", false, "Look URLs up in the configured threat feed. (Overrides config/env)")

	return scanCmd
}

// threatReportFromFlag maps the --threat flag to a report; empty means none.
func threatReportFromFlag(threat string) *core.ThreatReport {
	threat = strings.ToUpper(strings.TrimSpace(threat))
	switch threat {
	case "":
		return nil
	case safeThreatType:
		return &core.ThreatReport{IsSafe: true}
	default:
		return &core.ThreatReport{IsSafe: false, ThreatType: threat}
	}
}

func printVerdict(w io.Writer, v *core.Verdict, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(v)
	}

	label := "LIKELY SAFE"
	if v.IsPhishing {
		label = "PHISHING"
	}
	if _, err := fmt.Fprintf(w, "%s\n  score: %d/100 (%s)\n", v.URL, v.TotalScore, label); err != nil {
		return err
	}
	for _, indicator := range v.Indicators {
		if _, err := fmt.Fprintf(w, "  - %s\n", indicator); err != nil {
			return err
		}
	}
	return nil
}
