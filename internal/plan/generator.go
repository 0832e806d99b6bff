package plan

import (
	"context"
	"fmt"
	"strings"

	"github.com/tanvi/sahayak/internal/llm"
	"github.com/tanvi/sahayak/internal/registry"
)

// Generator asks the collaborator to translate an instruction into an
// ExecutionPlan over the currently registered entity types.
type Generator struct {
	Collaborator llm.Collaborator
	Registry     *registry.Registry
}

func NewGenerator(collab llm.Collaborator, reg *registry.Registry) *Generator {
	return &Generator{Collaborator: collab, Registry: reg}
}

const planGrammar = `Respond with ONE JSON object of the form:
{"steps": [{"id": "s1", "operation": "create|read|update|delete|list", "entityType": "<type>",
  "data": {..}, "identifier": "..", "sort": {"by": "<field>", "order": "asc|desc"}, "limit": N,
  "condition": {"type": "count_gt|count_gte|count_lt|count_lte|count_eq|exists|not_exists",
                "fromStep": "<earlier id>", "value": N},
  "repeat": N, "fromStep": "<earlier id>", "dataTemplate": {"<field>": "{{item.<field>}}"}}]}
Rules:
- Every step needs a unique id, an operation, and an entityType.
- condition.fromStep and fromStep must reference an EARLIER step id.
- dataTemplate is only meaningful together with fromStep; placeholders look
  like {{item.email}} and support transforms such as
  {{item.email|redomain:archive.example.com}}.
- No prose outside the JSON object.`

const planExamples = `Example 1 — conditional branching
Instruction: "add a user dev@example.com unless we already have 3 users"
{"steps": [
  {"id": "s1", "operation": "list", "entityType": "users"},
  {"id": "s2", "operation": "create", "entityType": "users",
   "data": {"email": "dev@example.com", "name": "dev"},
   "condition": {"type": "count_lt", "fromStep": "s1", "value": 3}}
]}

Example 2 — cross-entity correlation with fan-out
Instruction: "archive a note for every user, addressed to their archive alias"
{"steps": [
  {"id": "s1", "operation": "list", "entityType": "users"},
  {"id": "s2", "operation": "create", "entityType": "notes", "fromStep": "s1",
   "dataTemplate": {"title": "archive for {{item.name}}",
                    "recipient": "{{item.email|redomain:archive.example.com}}"}}
]}`

// CreatePlan returns a validated plan or a *GenerationError. Entity types the
// registry does not know are allowed through; they fail cleanly at dispatch.
func (g *Generator) CreatePlan(ctx context.Context, instruction string) (*ExecutionPlan, error) {
	system := strings.Join([]string{
		"You translate user instructions into structured execution plans over an entity store.",
		planGrammar,
		"Known entity types: " + strings.Join(g.Registry.Types(), ", "),
		"Schemas:",
		g.Registry.DescribeSchemas(),
		planExamples,
	}, "\n\n")

	raw, err := g.Collaborator.Complete(ctx, system, instruction)
	if err != nil {
		return nil, &GenerationError{Reason: fmt.Sprintf("collaborator call failed: %v", err)}
	}

	var p ExecutionPlan
	if err := llm.DecodeObject(raw, &p); err != nil {
		return nil, &GenerationError{Reason: "output is not a parseable plan", Output: raw}
	}
	if err := validatePlan(&p); err != nil {
		return nil, &GenerationError{Reason: err.Error(), Output: raw}
	}
	return &p, nil
}

func validatePlan(p *ExecutionPlan) error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d is missing an id", i+1)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate step id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Operation == "" {
			return fmt.Errorf("step %q is missing an operation", s.ID)
		}
		if s.EntityType == "" {
			return fmt.Errorf("step %q is missing an entityType", s.ID)
		}
	}
	return nil
}
