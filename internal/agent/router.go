package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/tanvi/sahayak/internal/dispatch"
	"github.com/tanvi/sahayak/internal/governance"
	"github.com/tanvi/sahayak/internal/llm"
	"github.com/tanvi/sahayak/internal/observability"
	"github.com/tanvi/sahayak/internal/plan"
	"github.com/tanvi/sahayak/internal/registry"
)

// Category is the classifier's label for an instruction.
type Category string

const (
	CategoryGreeting        Category = "greeting"
	CategorySimpleQuestion  Category = "simple_question"
	CategoryCrudOperation   Category = "crud_operation"
	CategoryComplexWorkflow Category = "complex_workflow"
	CategorySafetyViolation Category = "safety_violation"
	CategoryUnknown         Category = "unknown"
)

// Strategy names which execution machinery handled the request.
type Strategy string

const (
	StrategyDirect   Strategy = "direct_response"
	StrategyCrud     Strategy = "crud_operation"
	StrategyWorkflow Strategy = "complex_workflow"
)

// Classification is the structured output of the intent classifier.
type Classification struct {
	Category   Category          `json:"category"`
	Operation  string            `json:"operation,omitempty"`
	EntityType string            `json:"entityType,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Response is the one wire contract this system exposes.
type Response struct {
	Success   bool     `json:"success"`
	Result    string   `json:"result"`
	Strategy  Strategy `json:"strategy"`
	Reasoning []string `json:"reasoning"`
	Err       string   `json:"error,omitempty"`
}

// HistoryWriter records conversation turns for later responder context.
type HistoryWriter interface {
	AddMessage(ctx context.Context, chatID, role, content string) error
}

// Router classifies a raw instruction and decides, per category, how much
// execution machinery to invoke: a single dispatch, the full plan
// generator/executor, or a direct response with no execution at all.
type Router struct {
	Collaborator llm.Collaborator
	Registry     *registry.Registry
	Dispatcher   *dispatch.Dispatcher
	Generator    *plan.Generator
	Executor     *plan.Executor
	Responder    *Responder
	Policy       governance.PolicyEngine
	Logger       *observability.Logger
	History      HistoryWriter // optional
}

// Route processes one instruction end to end. It never returns an error;
// total failure still produces a structured, explained Response.
func (r *Router) Route(ctx context.Context, chatID, instruction string) (resp Response) {
	instruction = strings.TrimSpace(instruction)

	observability.SetStatus(observability.RoleRouting, instruction)
	defer observability.SetStatus(observability.RoleIdle, "")

	defer func() {
		if r.History != nil && instruction != "" {
			_ = r.History.AddMessage(ctx, chatID, "human", instruction)
			_ = r.History.AddMessage(ctx, chatID, "ai", resp.Result)
		}
	}()

	if instruction == "" {
		return Response{
			Strategy:  StrategyDirect,
			Reasoning: []string{"empty instruction"},
			Err:       "instruction must not be empty",
		}
	}

	var reasoning []string

	// Deterministic safety layer runs before any model judgment.
	if r.Policy != nil {
		verdict, err := r.Policy.Evaluate(ctx, governance.Request{Instruction: instruction, ChatID: chatID})
		if err == nil && verdict.Effect == governance.EffectDeny {
			if r.Logger != nil {
				r.Logger.LogPolicyCheck(chatID, string(verdict.Effect), verdict.Reason)
			}
			return Response{
				Strategy:  StrategyDirect,
				Result:    "I can't help with that: " + verdict.Reason,
				Reasoning: []string{"blocked by policy: " + verdict.Reason},
				Err:       "instruction rejected by safety policy",
			}
		}
	}

	cls := r.classify(ctx, instruction)
	reasoning = append(reasoning, fmt.Sprintf("classified as %s", cls.Category))
	if cls.Reasoning != "" {
		reasoning = append(reasoning, cls.Reasoning)
	}
	if r.Logger != nil {
		r.Logger.LogClassification(chatID, string(cls.Category), cls.Reasoning)
	}

	switch cls.Category {
	case CategoryCrudOperation:
		return r.routeCrud(ctx, chatID, instruction, cls, reasoning)
	case CategoryComplexWorkflow:
		return r.routeWorkflow(ctx, chatID, instruction, reasoning)
	case CategorySafetyViolation:
		return Response{
			Strategy:  StrategyDirect,
			Result:    "I won't execute that instruction; it looks unsafe or destructive beyond what I'm allowed to do.",
			Reasoning: append(reasoning, "rejected without execution"),
			Err:       "instruction classified as a safety violation",
		}
	default:
		return r.routeDirect(ctx, chatID, instruction, cls, reasoning)
	}
}

const classifierPrompt = `You classify user instructions for an entity-store assistant.
Respond with ONE JSON object:
{"category": "greeting|simple_question|crud_operation|complex_workflow|safety_violation|unknown",
 "operation": "create|read|update|delete|list",
 "entityType": "<entity type, plural>",
 "fields": {"<field>": "<value extracted from the text>"},
 "reasoning": "<one short sentence>"}
operation/entityType/fields only apply to crud_operation. Use complex_workflow
when the instruction needs multiple dependent operations, conditions, or
per-item work. No prose outside the JSON.`

// classify labels the instruction. On any collaborator or parse failure the
// category degrades to unknown, which routes to the responder's fallbacks.
func (r *Router) classify(ctx context.Context, instruction string) Classification {
	system := classifierPrompt + "\n\nKnown entity types: " + strings.Join(r.Registry.Types(), ", ")

	raw, err := r.Collaborator.Complete(ctx, system, instruction)
	if err != nil {
		return Classification{Category: CategoryUnknown, Reasoning: "classifier unavailable"}
	}

	var cls Classification
	if err := llm.DecodeObject(raw, &cls); err != nil {
		return Classification{Category: CategoryUnknown, Reasoning: "classifier output unparseable"}
	}
	switch cls.Category {
	case CategoryGreeting, CategorySimpleQuestion, CategoryCrudOperation,
		CategoryComplexWorkflow, CategorySafetyViolation:
	default:
		cls.Category = CategoryUnknown
	}
	return cls
}

func (r *Router) routeCrud(ctx context.Context, chatID, instruction string, cls Classification, reasoning []string) Response {
	op := dispatch.Operation(cls.Operation)
	if !op.Valid() {
		reasoning = append(reasoning, fmt.Sprintf("classifier suggested unknown operation %q", cls.Operation))
		return r.routeDirect(ctx, chatID, instruction, cls, reasoning)
	}

	cr := r.Dispatcher.Dispatch(ctx, op, cls.EntityType, instruction, cls.Fields)
	if r.Logger != nil {
		r.Logger.LogDispatch(chatID, string(op), cls.EntityType, cr.Success)
	}

	reasoning = append(reasoning, fmt.Sprintf("dispatched single %s on %s", op, cls.EntityType))
	resp := Response{
		Success:   cr.Success,
		Strategy:  StrategyCrud,
		Reasoning: reasoning,
	}
	if cr.Success {
		resp.Result = cr.Details
	} else {
		resp.Result = "The operation failed: " + cr.Err
		resp.Err = cr.Err
	}
	return resp
}

func (r *Router) routeWorkflow(ctx context.Context, chatID, instruction string, reasoning []string) Response {
	observability.SetStatus(observability.RolePlanning, instruction)
	p, err := r.Generator.CreatePlan(ctx, instruction)
	if err != nil {
		// The one error that aborts a request before any step runs.
		return Response{
			Strategy:  StrategyWorkflow,
			Result:    "I couldn't turn that into a workable plan.",
			Reasoning: append(reasoning, "plan generation failed"),
			Err:       err.Error(),
		}
	}
	reasoning = append(reasoning, fmt.Sprintf("generated plan with %d step(s)", len(p.Steps)))
	if r.Logger != nil {
		r.Logger.LogPlan(chatID, len(p.Steps))
	}

	observability.SetStatus(observability.RoleExecuting, instruction)
	results := r.Executor.Execute(ctx, p)

	success := true
	var report []string
	for _, res := range results {
		switch {
		case res.Meta.Skipped:
			report = append(report, fmt.Sprintf("step %s: skipped (%s)", res.StepID, res.Details))
		case res.Success:
			report = append(report, fmt.Sprintf("step %s: %s", res.StepID, res.Details))
		default:
			success = false
			report = append(report, fmt.Sprintf("step %s: FAILED (%s)", res.StepID, res.Err))
		}
		if r.Logger != nil {
			r.Logger.LogStep(chatID, res.StepID, res.Success, res.Meta.Skipped)
		}
	}

	resp := Response{
		Success:   success,
		Strategy:  StrategyWorkflow,
		Result:    strings.Join(report, "\n"),
		Reasoning: reasoning,
	}
	if !success {
		resp.Err = "one or more plan steps failed"
	}
	return resp
}

func (r *Router) routeDirect(ctx context.Context, chatID, instruction string, cls Classification, reasoning []string) Response {
	// Aggregate store context is fetched lazily, only for the categories
	// that benefit from it. Greetings never touch the store.
	storeContext := ""
	if cls.Category == CategorySimpleQuestion || cls.Category == CategoryUnknown {
		storeContext = r.aggregateContext(ctx)
	}

	text, notes := r.Responder.Respond(ctx, chatID, instruction, cls, storeContext)
	return Response{
		Success:   true,
		Strategy:  StrategyDirect,
		Result:    text,
		Reasoning: append(reasoning, notes...),
	}
}

// aggregateContext renders per-type record counts for responder prompts.
func (r *Router) aggregateContext(ctx context.Context) string {
	var lines []string
	for _, name := range r.Registry.Types() {
		cfg, ok := r.Registry.Get(name)
		if !ok {
			continue
		}

		var n int
		switch {
		case cfg.Operations.Count != nil:
			count, err := cfg.Operations.Count(ctx)
			if err != nil {
				continue
			}
			n = count
		case cfg.Operations.List != nil:
			listed, err := cfg.Operations.List(ctx)
			if err != nil {
				continue
			}
			n = listed.Count
		default:
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %d record(s)", name, n))
	}
	return strings.Join(lines, "\n")
}
