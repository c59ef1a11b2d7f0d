package risk

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tradejournal.app/internal/obs"
)

// IntelSource looks up intelligence for a source address.
type IntelSource interface {
	Lookup(ctx context.Context, ip string) (IPIntelligence, error)
}

// Record is a persisted assessment snapshot.
type Record struct {
	UserID        string
	IP            string
	IsAdminAccess bool
	Assessment    Assessment
	AssessedAt    time.Time
}

// Recorder keeps assessments for later review. Failures never affect the caller.
type Recorder interface {
	SaveAssessment(ctx context.Context, rec Record) error
}

// Evaluator gathers the network signal and scores it.
type Evaluator struct {
	engine   *Engine
	source   IntelSource
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time
}

// EvaluatorOption configures Evaluator.
type EvaluatorOption func(*Evaluator)

// WithRecorder persists every assessment on a best-effort basis.
func WithRecorder(r Recorder) EvaluatorOption {
	return func(e *Evaluator) { e.recorder = r }
}

// WithLookupTimeout bounds each oracle call.
func WithLookupTimeout(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewEvaluator wires an engine to an intelligence source. A nil source always degrades.
func NewEvaluator(engine *Engine, source IntelSource, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{engine: engine, source: source, timeout: 2 * time.Second, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate looks up ip and assesses the connection. Oracle failure is scored
// with the network factors unknown.
func (e *Evaluator) Evaluate(ctx context.Context, userID, ip string, client ClientEnvironment, isAdminAccess bool) Assessment {
	sig := Signal{Client: client}
	if e.source != nil && ip != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
		intel, err := e.source.Lookup(lookupCtx, ip)
		cancel()
		if err != nil {
			obs.Logger().Warn("ip intelligence unavailable, scoring degraded",
				zap.String("ip", ip),
				zap.Error(err),
			)
		} else {
			sig.Intel = &intel
		}
	}

	assessment := e.engine.Assess(sig, isAdminAccess)
	obs.ObserveRiskAction(string(assessment.Action))

	if e.recorder != nil {
		rec := Record{
			UserID:        userID,
			IP:            ip,
			IsAdminAccess: isAdminAccess,
			Assessment:    assessment,
			AssessedAt:    e.now().UTC(),
		}
		if err := e.recorder.SaveAssessment(ctx, rec); err != nil {
			obs.Logger().Warn("risk assessment not persisted", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return assessment
}
