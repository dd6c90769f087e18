package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"proof-of-life-gate/internal/decision/domain"
)

const (
	grantedQuery = "data.pol.decision.granted"
	reasonQuery  = "data.pol.decision.reason"
)

// DefaultPolicy reproduces Rules. Custom policies must define data.pol.decision.granted
// (boolean) and data.pol.decision.reason (string, empty when granted).
const DefaultPolicy = `package pol.decision

default granted := false

default reason := ""

reason := "physical challenge failed" if {
	not input.physical.satisfied
} else := "NO_FACE" if {
	input.face.label == "NO_FACE"
} else := "face classifier unavailable" if {
	input.face.label == "ERROR"
} else := "FAKE" if {
	input.require_real
	input.face.label == "FAKE"
} else := "emotion mismatch" if {
	not input.emotion.matched
}

granted if {
	input.physical.satisfied
	reason == ""
}
`

// OPAEvaluator evaluates the decision policy with OPA Rego.
type OPAEvaluator struct {
	opts       Options
	source     string
	compiler   *ast.Compiler
	compileErr error
	logger     *zap.Logger
}

// NewOPAEvaluator compiles the policy at policyFile, or DefaultPolicy when policyFile is empty.
// An unreadable file is an error. A policy that does not compile is logged and every decision
// then comes from Rules.
func NewOPAEvaluator(policyFile string, opts Options, logger *zap.Logger) (*OPAEvaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	source := DefaultPolicy
	if policyFile != "" {
		raw, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, fmt.Errorf("decision: read policy: %w", err)
		}
		source = string(raw)
	}
	e := &OPAEvaluator{opts: opts, source: source, logger: logger}
	e.compiler, e.compileErr = ast.CompileModules(map[string]string{"decision.rego": source})
	if e.compileErr != nil {
		logger.Error("decision policy failed to compile, using built-in rules", zap.String("file", policyFile), zap.Error(e.compileErr))
	}
	return e, nil
}

// HealthCheck verifies that the loaded policy compiles and evaluates.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if e.compileErr != nil {
		return fmt.Errorf("compile policy: %w", e.compileErr)
	}
	probe := domain.Input{PhysicalSatisfied: true, Face: "REAL", Confidence: 1, EmotionRequired: "happy", EmotionObserved: "happy", EmotionMatched: true}
	if _, err := e.evaluate(ctx, probe); err != nil {
		return fmt.Errorf("eval policy: %w", err)
	}
	return nil
}

// Decide implements Evaluator. Evaluation failures fall back to Rules; the error is
// returned alongside the fallback decision for logging.
func (e *OPAEvaluator) Decide(ctx context.Context, in domain.Input) (domain.Decision, error) {
	if e.compileErr != nil {
		return Rules(in, e.opts), nil
	}
	d, err := e.evaluate(ctx, in)
	if err != nil {
		e.logger.Warn("decision policy evaluation failed, using built-in rules", zap.Error(err))
		return Rules(in, e.opts), err
	}
	return d, nil
}

func (e *OPAEvaluator) buildInput(in domain.Input) map[string]interface{} {
	return map[string]interface{}{
		"physical": map[string]interface{}{
			"satisfied": in.PhysicalSatisfied,
		},
		"face": map[string]interface{}{
			"label":      string(in.Face),
			"confidence": in.Confidence,
		},
		"emotion": map[string]interface{}{
			"required": in.EmotionRequired,
			"observed": in.EmotionObserved,
			"matched":  in.EmotionMatched,
		},
		"require_real": e.opts.RequireRealFace,
	}
}

func (e *OPAEvaluator) evaluate(ctx context.Context, in domain.Input) (domain.Decision, error) {
	input := e.buildInput(in)

	grantedRS, err := rego.New(
		rego.Query(grantedQuery),
		rego.Compiler(e.compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	if len(grantedRS) == 0 || len(grantedRS[0].Expressions) == 0 {
		return domain.Decision{}, fmt.Errorf("%s is undefined", grantedQuery)
	}
	granted, ok := grantedRS[0].Expressions[0].Value.(bool)
	if !ok {
		return domain.Decision{}, fmt.Errorf("%s is not a boolean", grantedQuery)
	}
	if granted {
		return domain.Grant(), nil
	}

	reasonRS, err := rego.New(
		rego.Query(reasonQuery),
		rego.Compiler(e.compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return domain.Decision{}, err
	}
	reason := ""
	if len(reasonRS) > 0 && len(reasonRS[0].Expressions) > 0 {
		reason, _ = reasonRS[0].Expressions[0].Value.(string)
	}
	if reason == "" {
		reason = "denied by policy"
	}
	return domain.Deny(reason), nil
}
