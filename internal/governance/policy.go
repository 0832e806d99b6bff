package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of an instruction to be evaluated before any
// classification or execution happens.
type Request struct {
	Instruction string
	ChatID      string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates raw instructions against a set of rules. It is the
// deterministic layer in front of the model's own safety judgment.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine is a basic implementation of PolicyEngine. Rules are
// registered at startup; evaluation is read-only afterwards.
type DefaultPolicyEngine struct {
	DeniedEntities map[string]*regexp.Regexp
	DeniedRegex    []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedEntities: make(map[string]*regexp.Regexp),
		DeniedRegex:    make([]*regexp.Regexp, 0),
	}
}

// DenyEntity blocks every instruction that mentions a protected entity type.
func (e *DefaultPolicyEngine) DenyEntity(name string) {
	e.DeniedEntities[name] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
}

// DenyInstruction blocks instructions matching the given pattern.
func (e *DefaultPolicyEngine) DenyInstruction(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	for name, re := range e.DeniedEntities {
		if re.MatchString(req.Instruction) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("entity type '%s' is restricted by system policy", name),
			}, nil
		}
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Instruction) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("instruction matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
