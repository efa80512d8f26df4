// Package pipeline admits a scoring request, runs the analyzers, and audits the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/phishscope/internal/analysis/core"
	"github.com/xkilldash9x/phishscope/internal/audit"
	"github.com/xkilldash9x/phishscope/internal/security"
)

// Audit actions emitted by the pipeline.
const (
	ActionVerdict  = "scan.verdict"
	ActionRejected = "scan.rejected"
)

// anonymousCaller is recorded when a token does not resolve to a caller.
const anonymousCaller = "anonymous"

var (
	// ErrRateLimited means the caller exhausted its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidSession means the session token is unknown or expired.
	ErrInvalidSession = errors.New("invalid or expired session")
)

// RejectedError is returned when a request is refused at admission. It never
// carries a verdict.
type RejectedError struct {
	CallerID string
	Reason   error
}

func (e *RejectedError) Error() string {
	if e.CallerID == "" {
		return fmt.Sprintf("request rejected: %v", e.Reason)
	}
	return fmt.Sprintf("request rejected for caller %s: %v", e.CallerID, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.Reason }

// State is a step of a single evaluation.
type State int

const (
	StateAdmitted State = iota
	StateAnalyzing
	StateAggregated
	StateLogged
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StateAnalyzing:
		return "analyzing"
	case StateAggregated:
		return "aggregated"
	case StateLogged:
		return "logged"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionResolver maps a token to the session that owns it.
type SessionResolver interface {
	Lookup(token string) (security.Session, bool)
}

// Admitter decides whether a caller may make another request.
type Admitter interface {
	Admit(callerID string) bool
}

// Scorer fuses analyzer output into a verdict.
type Scorer interface {
	Aggregate(ctx context.Context, target *core.Target) (*core.Verdict, error)
}

// Auditor records an entry. It must not fail the caller.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) *audit.Record
}

// Request is one URL to score on behalf of a session.
type Request struct {
	SessionToken string
	URL          string
	// ThreatReport is an optional caller-supplied reputation verdict.
	ThreatReport *core.ThreatReport
}

// Pipeline runs Admitted -> Analyzing -> Aggregated -> Logged, or stops at
// Rejected. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	sessions SessionResolver
	limiter  Admitter
	scorer   Scorer
	auditor  Auditor
	logger   *zap.Logger
}

// New creates a pipeline. All collaborators are required.
func New(sessions SessionResolver, limiter Admitter, scorer Scorer, auditor Auditor, logger *zap.Logger) (*Pipeline, error) {
	if sessions == nil || limiter == nil || scorer == nil || auditor == nil {
		return nil, fmt.Errorf("cannot initialize pipeline with nil dependencies")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sessions: sessions,
		limiter:  limiter,
		scorer:   scorer,
		auditor:  auditor,
		logger:   logger.Named("pipeline"),
	}, nil
}

// Evaluate scores req.URL. On admission failure it returns a *RejectedError
// wrapping ErrInvalidSession or ErrRateLimited and no analyzer runs. If ctx
// is cancelled during analysis it returns ctx.Err() and nothing is audited.
// Every verdict is audited before it is returned.
func (p *Pipeline) Evaluate(ctx context.Context, req Request) (*core.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, ok := p.sessions.Lookup(req.SessionToken)
	if !ok {
		return nil, p.reject(ctx, anonymousCaller, req, ErrInvalidSession)
	}
	callerID := session.CallerID
	if !p.limiter.Admit(callerID) {
		return nil, p.reject(ctx, callerID, req, ErrRateLimited)
	}

	log := p.logger.With(zap.String("caller_id", callerID), zap.String("url", req.URL))
	p.transition(log, StateAdmitted)

	p.transition(log, StateAnalyzing)
	verdict, err := p.scorer.Aggregate(ctx, core.NewTarget(req.URL, req.ThreatReport))
	if err != nil {
		log.Debug("Evaluation abandoned.", zap.Error(err))
		return nil, err
	}
	p.transition(log, StateAggregated)

	// The verdict exists, so it is recorded even if the caller has gone away.
	p.auditor.Record(context.WithoutCancel(ctx), audit.Entry{
		Level:    audit.LevelInfo,
		Message:  "verdict issued",
		CallerID: callerID,
		Action:   ActionVerdict,
		Details:  verdict,
	})
	p.transition(log, StateLogged)

	log.Info("URL scored.",
		zap.Int("total_score", verdict.TotalScore),
		zap.Bool("is_phishing", verdict.IsPhishing),
	)
	return verdict, nil
}

func (p *Pipeline) reject(ctx context.Context, callerID string, req Request, reason error) error {
	p.auditor.Record(ctx, audit.Entry{
		Level:    audit.LevelWarn,
		Message:  "request rejected",
		CallerID: callerID,
		Action:   ActionRejected,
		Details: map[string]string{
			"url":    req.URL,
			"reason": reason.Error(),
		},
	})
	log := p.logger.With(zap.String("caller_id", callerID), zap.String("url", req.URL))
	p.transition(log, StateRejected)
	log.Warn("Request rejected.", zap.Error(reason))

	if callerID == anonymousCaller {
		callerID = ""
	}
	return &RejectedError{CallerID: callerID, Reason: reason}
}

func (p *Pipeline) transition(log *zap.Logger, s State) {
	log.Debug("Pipeline state changed.", zap.Stringer("state", s))
}
