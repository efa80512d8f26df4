// Package scoring fuses analyzer signals into a single verdict.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
)

// DefaultAnalyzerTimeout is the outer guard on a single analyzer.
const DefaultAnalyzerTimeout = 10 * time.Second

// outcome is one analyzer's contribution, successful or not.
type outcome struct {
	result *core.Result
	err    error
}

// Aggregator runs every analyzer concurrently and fuses their signals.
type Aggregator struct {
	analyzers []core.Analyzer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewAggregator creates an aggregator. Indicators in the verdict follow the
// order analyzers are given here.
func NewAggregator(analyzers []core.Analyzer, timeout time.Duration, logger *zap.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultAnalyzerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		analyzers: analyzers,
		timeout:   timeout,
		logger:    logger.Named("aggregator"),
	}
}

// Analyzers returns the registered analyzers in order.
func (a *Aggregator) Analyzers() []core.Analyzer {
	return append([]core.Analyzer(nil), a.analyzers...)
}

// Aggregate produces a verdict for target. Analyzer failures never fail the
// aggregation; the only error is the caller's context ending, in which case
// partial results are dropped.
func (a *Aggregator) Aggregate(ctx context.Context, target *core.Target) (*core.Verdict, error) {
	outcomes := make([]outcome, len(a.analyzers))

	var g errgroup.Group
	for i, analyzer := range a.analyzers {
		g.Go(func() error {
			outcomes[i] = a.run(ctx, analyzer, target)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.fuse(target, outcomes), nil
}

// run invokes one analyzer under its own deadline. The call is abandoned, not
// awaited, if the analyzer ignores its context past the deadline.
func (a *Aggregator) run(ctx context.Context, analyzer core.Analyzer, target *core.Target) outcome {
	actx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Analyzer panicked",
					zap.String("analyzer", analyzer.Name()),
					zap.Any("panicValue", r),
					zap.String("stack", string(debug.Stack())),
				)
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := analyzer.Analyze(actx, target)
		if err == nil && res == nil {
			err = errors.New("analyzer returned no result")
		}
		done <- outcome{result: res, err: err}
	}()

	select {
	case o := <-done:
		return o
	case <-actx.Done():
		return outcome{err: actx.Err()}
	}
}

func (a *Aggregator) fuse(target *core.Target, outcomes []outcome) *core.Verdict {
	verdict := &core.Verdict{
		URL:        target.Raw,
		Indicators: make([]string, 0),
	}
	total := 0

	if target.Malformed() {
		verdict.Indicators = append(verdict.Indicators, fmt.Sprintf("malformed URL: %v", target.ParseErr))
	}

	for i, o := range outcomes {
		name := a.analyzers[i].Name()
		if o.err != nil {
			if errors.Is(o.err, core.ErrMalformedURL) {
				continue
			}
			a.logger.Warn("Analyzer failed, contributing zero.", zap.String("analyzer", name), zap.Error(o.err))
			verdict.Indicators = append(verdict.Indicators, failureIndicator(name, o.err))
			continue
		}

		res := o.result
		total += max(res.Signal.Score, 0)
		verdict.Indicators = append(verdict.Indicators, res.Signal.Indicators...)
		if res.Domain != nil {
			verdict.DomainFacts = *res.Domain
		}
		if res.Redirect != nil {
			verdict.RedirectCount = res.Redirect.Count
		}
		if res.ThreatFlag != nil {
			verdict.ThreatFeedFlag = core.Bool(*res.ThreatFlag)
		}
	}

	verdict.TotalScore = Clamp(total)
	verdict.IsPhishing = IsPhishing(verdict.TotalScore)

	a.logger.Debug("Verdict fused.",
		zap.String("url", target.Raw),
		zap.Int("raw_score", total),
		zap.Int("total_score", verdict.TotalScore),
		zap.Bool("is_phishing", verdict.IsPhishing),
	)
	return verdict
}

func failureIndicator(name string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s analysis timed out", name)
	}
	return fmt.Sprintf("%s analysis failed: %v", name, err)
}

// Clamp bounds a raw score to [0, core.MaxScore].
func Clamp(score int) int {
	return min(max(score, 0), core.MaxScore)
}

// IsPhishing applies the fixed verdict threshold to a clamped score.
func IsPhishing(score int) bool {
	return score >= core.PhishingThreshold
}
