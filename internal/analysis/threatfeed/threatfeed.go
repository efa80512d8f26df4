// Package threatfeed folds a reputation-service verdict into the score.
package threatfeed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
)

// unsafePoints saturates the aggregate on its own.
const unsafePoints = 100

// Checker looks a URL up in an external reputation service.
type Checker interface {
	Check(ctx context.Context, rawURL string) (*core.ThreatReport, error)
}

// Adapter scores the caller-supplied report, or asks the Checker when the
// caller supplied none.
type Adapter struct {
	*core.BaseAnalyzer
	checker Checker
}

// NewAdapter creates the adapter. checker may be nil, in which case only
// caller-supplied reports are scored.
func NewAdapter(checker Checker, logger *zap.Logger) *Adapter {
	return &Adapter{
		BaseAnalyzer: core.NewBaseAnalyzer("threat_feed", "Folds in an external threat-intelligence verdict", core.TypeExternal, logger),
		checker:      checker,
	}
}

// Analyze never rejects a malformed target when a report was supplied; the
// report speaks for the raw URL.
func (a *Adapter) Analyze(ctx context.Context, target *core.Target) (*core.Result, error) {
	report := target.Threat
	if report == nil && a.checker != nil && !target.Malformed() {
		var err error
		report, err = a.checker.Check(ctx, target.URL.String())
		if err != nil {
			return nil, fmt.Errorf("lookup failed: %w", err)
		}
	}
	return &core.Result{Signal: Score(report), ThreatFlag: Flag(report)}, nil
}

// Score converts a report into a signal. A nil report contributes nothing.
func Score(report *core.ThreatReport) core.Signal {
	var sig core.Signal
	if report != nil && !report.IsSafe {
		sig.Addf(unsafePoints, "threat feed reports %s", threatType(report))
	}
	return sig
}

// Flag is true when the report calls the URL unsafe and nil without a report.
func Flag(report *core.ThreatReport) *bool {
	if report == nil {
		return nil
	}
	return core.Bool(!report.IsSafe)
}

func threatType(report *core.ThreatReport) string {
	if report.ThreatType == "" {
		return "UNSPECIFIED"
	}
	return report.ThreatType
}
