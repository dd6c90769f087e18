package engine

import (
	"context"

	"proof-of-life-gate/internal/biometric"
	"proof-of-life-gate/internal/decision/domain"
)

// Evaluator turns attempt evidence into a decision.
type Evaluator interface {
	Decide(ctx context.Context, in domain.Input) (domain.Decision, error)
}

// Options tune the default rules.
type Options struct {
	// RequireRealFace denies FAKE faces. Off by default: the reference flow grants a FAKE
	// face whose emotion matches and reports the label informationally.
	RequireRealFace bool
}

// Rules is the decision logic coded in Go. It mirrors the default Rego policy and is used
// whenever the policy cannot be compiled or evaluated.
func Rules(in domain.Input, opts Options) domain.Decision {
	switch {
	case !in.PhysicalSatisfied:
		return domain.Deny(domain.ReasonPhysicalFailed)
	case in.Face == biometric.LabelNoFace:
		return domain.Deny(domain.ReasonNoFace)
	case in.Face == biometric.LabelError:
		return domain.Deny(domain.ReasonClassifierUnavailable)
	case opts.RequireRealFace && in.Face == biometric.LabelFake:
		return domain.Deny(domain.ReasonFake)
	case !in.EmotionMatched:
		return domain.Deny(domain.ReasonEmotionMismatch)
	}
	return domain.Grant()
}

// RulesEvaluator evaluates Rules without OPA.
type RulesEvaluator struct {
	Options Options
}

// Decide implements Evaluator.
func (e RulesEvaluator) Decide(ctx context.Context, in domain.Input) (domain.Decision, error) {
	return Rules(in, e.Options), nil
}
