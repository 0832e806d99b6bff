package plan

import (
	"fmt"

	"github.com/tanvi/sahayak/internal/dispatch"
	"github.com/tanvi/sahayak/internal/store"
)

// Condition comparison kinds.
const (
	CondCountGT   = "count_gt"
	CondCountGTE  = "count_gte"
	CondCountLT   = "count_lt"
	CondCountLTE  = "count_lte"
	CondCountEQ   = "count_eq"
	CondExists    = "exists"
	CondNotExists = "not_exists"
)

// Sort orders a list step's materialized items by one field.
type Sort struct {
	By    string `json:"by"`
	Order string `json:"order"` // asc | desc
}

// Condition gates a step on the materialized result of an earlier step.
type Condition struct {
	Type     string  `json:"type"`
	FromStep string  `json:"fromStep"`
	Field    string  `json:"field,omitempty"` // count (default) | items.length
	Value    float64 `json:"value,omitempty"`
}

// Step is one ordered unit of an execution plan. EntityType need not exist in
// the registry; unknown types fail cleanly at dispatch time.
type Step struct {
	ID           string             `json:"id"`
	Operation    dispatch.Operation `json:"operation"`
	EntityType   string             `json:"entityType"`
	Data         map[string]any     `json:"data,omitempty"`
	Identifier   string             `json:"identifier,omitempty"`
	Filter       map[string]any     `json:"filter,omitempty"`
	Sort         *Sort              `json:"sort,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Condition    *Condition         `json:"condition,omitempty"`
	Repeat       int                `json:"repeat,omitempty"`
	FromStep     string             `json:"fromStep,omitempty"`
	DataTemplate map[string]string  `json:"dataTemplate,omitempty"`
}

// ExecutionPlan is generated fresh per complex request and never persisted.
type ExecutionPlan struct {
	Steps []Step `json:"steps"`
}

// Meta carries execution annotations that are not part of the operation
// outcome itself.
type Meta struct {
	Skipped bool `json:"skipped,omitempty"`
}

// StepResult is the typed outcome of one step, kept in memory for later
// steps' condition and fromStep resolution.
type StepResult struct {
	StepID     string
	Success    bool
	Operation  dispatch.Operation
	EntityType string
	Items      []store.Record
	Count      int
	IDs        []string
	Details    string
	Err        string
	Meta       Meta
}

// GenerationError means the collaborator's output could not be parsed as a
// valid plan. It aborts the complex-workflow request before any step runs.
type GenerationError struct {
	Reason string
	Output string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("plan generation failed: %s", e.Reason)
}
