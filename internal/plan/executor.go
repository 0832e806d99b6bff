package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tanvi/sahayak/internal/dispatch"
	"github.com/tanvi/sahayak/internal/registry"
	"github.com/tanvi/sahayak/internal/store"
)

// CrudDispatcher is the slice of the dispatcher the executor needs. Tests
// substitute a scripted fake.
type CrudDispatcher interface {
	Dispatch(ctx context.Context, op dispatch.Operation, entityType, rawInstruction string, hints map[string]string) dispatch.CrudResult
}

// Executor interprets a plan step by step: it evaluates conditions against
// prior results, expands fan-out and repeated steps, and records one typed
// result per step. A failing step never aborts its siblings; a multi-step
// workflow reports what succeeded.
type Executor struct {
	Dispatcher CrudDispatcher
	Registry   *registry.Registry
}

func NewExecutor(d CrudDispatcher, reg *registry.Registry) *Executor {
	return &Executor{Dispatcher: d, Registry: reg}
}

// Execute runs every step in order and returns their results. Steps run
// strictly sequentially; later steps may depend on earlier results.
func (e *Executor) Execute(ctx context.Context, p *ExecutionPlan) []StepResult {
	results := make([]StepResult, 0, len(p.Steps))
	byID := make(map[string]StepResult, len(p.Steps))

	for _, step := range p.Steps {
		var res StepResult
		switch {
		case step.Condition != nil && !conditionSatisfied(step.Condition, byID):
			res = StepResult{
				StepID:     step.ID,
				Success:    true,
				Operation:  step.Operation,
				EntityType: step.EntityType,
				Details:    fmt.Sprintf("skipped: condition on step %q not satisfied", step.Condition.FromStep),
				Meta:       Meta{Skipped: true},
			}
		case step.FromStep != "":
			res = e.runFanOut(ctx, step, byID)
		case step.Repeat > 1:
			res = e.runRepeated(ctx, step)
		default:
			res = e.runOnce(ctx, step, step.Data, step.Identifier)
		}

		results = append(results, res)
		byID[step.ID] = res
	}
	return results
}

// conditionSatisfied evaluates a condition against the materialized result of
// the referenced step. A reference to a missing (or later) step is treated as
// not satisfied, never as an error.
func conditionSatisfied(c *Condition, byID map[string]StepResult) bool {
	ref, ok := byID[c.FromStep]
	if !ok {
		return false
	}

	v := float64(ref.Count)
	if c.Field == "items.length" {
		v = float64(len(ref.Items))
	} else if ref.Count == 0 && len(ref.Items) > 0 {
		v = float64(len(ref.Items))
	}

	switch c.Type {
	case CondCountGT:
		return v > c.Value
	case CondCountGTE:
		return v >= c.Value
	case CondCountLT:
		return v < c.Value
	case CondCountLTE:
		return v <= c.Value
	case CondCountEQ:
		return v == c.Value
	case CondExists:
		return v > 0
	case CondNotExists:
		return v == 0
	default:
		// Unknown comparators fail closed.
		return false
	}
}

// runFanOut executes the step once per item of the referenced step's result
// and aggregates: success is the AND of per-item successes, count the sum,
// ids the in-order concatenation.
func (e *Executor) runFanOut(ctx context.Context, step Step, byID map[string]StepResult) StepResult {
	ref, ok := byID[step.FromStep]
	if !ok {
		return StepResult{
			StepID:     step.ID,
			Operation:  step.Operation,
			EntityType: step.EntityType,
			Err:        fmt.Sprintf("fromStep %q has no result", step.FromStep),
		}
	}
	if len(ref.Items) == 0 {
		return StepResult{
			StepID:     step.ID,
			Success:    true,
			Operation:  step.Operation,
			EntityType: step.EntityType,
			Details:    fmt.Sprintf("no items from step %q", step.FromStep),
		}
	}

	idField := e.identifierField(step.EntityType)
	subs := make([]StepResult, 0, len(ref.Items))
	for _, item := range ref.Items {
		data := step.Data
		if len(step.DataTemplate) > 0 {
			data = renderData(step.DataTemplate, item)
		}

		identifier := step.Identifier
		if identifier != "" {
			identifier = RenderTemplate(identifier, item)
		} else if idField != "" {
			if v, ok := item[idField]; ok && v != nil {
				identifier = fmt.Sprintf("%v", v)
			}
		}

		subs = append(subs, e.runOnce(ctx, step, data, identifier))
	}
	return aggregate(step, subs)
}

func (e *Executor) runRepeated(ctx context.Context, step Step) StepResult {
	subs := make([]StepResult, 0, step.Repeat)
	for i := 0; i < step.Repeat; i++ {
		subs = append(subs, e.runOnce(ctx, step, step.Data, step.Identifier))
	}
	return aggregate(step, subs)
}

func aggregate(step Step, subs []StepResult) StepResult {
	agg := StepResult{
		StepID:     step.ID,
		Success:    true,
		Operation:  step.Operation,
		EntityType: step.EntityType,
	}
	var details, errs []string
	for _, sub := range subs {
		agg.Success = agg.Success && sub.Success
		agg.Count += sub.Count
		agg.IDs = append(agg.IDs, sub.IDs...)
		agg.Items = append(agg.Items, sub.Items...)
		if sub.Details != "" {
			details = append(details, sub.Details)
		}
		if sub.Err != "" {
			errs = append(errs, sub.Err)
		}
	}
	agg.Details = strings.Join(details, "; ")
	agg.Err = strings.Join(errs, "; ")
	return agg
}

// runOnce dispatches a single operation and shapes the envelope into a
// StepResult. List results get executor-side filter, sort, and limit before
// count/items/ids are computed; the store's list is an unordered full set.
func (e *Executor) runOnce(ctx context.Context, step Step, data map[string]any, identifier string) StepResult {
	hints := make(map[string]string, len(data)+1)
	for k, v := range data {
		if v != nil {
			hints[k] = fmt.Sprintf("%v", v)
		}
	}
	idField := e.identifierField(step.EntityType)
	if identifier != "" && idField != "" {
		hints[idField] = identifier
	}

	cr := e.Dispatcher.Dispatch(ctx, step.Operation, step.EntityType, "", hints)

	res := StepResult{
		StepID:     step.ID,
		Success:    cr.Success,
		Operation:  step.Operation,
		EntityType: step.EntityType,
		Details:    cr.Details,
		Err:        cr.Err,
	}
	if !cr.Success {
		return res
	}

	switch data := cr.Data.(type) {
	case store.ListResult:
		items := data.Items
		if len(step.Filter) > 0 {
			items = filterItems(items, step.Filter)
		}
		if step.Sort != nil {
			items = sortItems(items, step.Sort)
		}
		if step.Limit > 0 && step.Limit < len(items) {
			items = items[:step.Limit]
		}
		res.Items = items
		res.Count = len(items)
		res.IDs = extractIDs(items, idField)
	case store.CreateResult:
		res.Count = 1
		res.IDs = []string{data.ID}
	case store.Record:
		res.Items = []store.Record{data}
		res.Count = 1
		res.IDs = extractIDs(res.Items, idField)
	case store.Ack:
		res.Count = data.Affected
		if identifier != "" {
			res.IDs = []string{identifier}
		}
	default:
		res.Count = 1
	}
	return res
}

func (e *Executor) identifierField(entityType string) string {
	if e.Registry == nil {
		return ""
	}
	cfg, ok := e.Registry.Get(entityType)
	if !ok {
		return ""
	}
	return cfg.IdentifierField
}

func filterItems(items []store.Record, filter map[string]any) []store.Record {
	var out []store.Record
	for _, item := range items {
		match := true
		for k, want := range filter {
			got, ok := item[k]
			if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, item)
		}
	}
	return out
}

// sortItems stably sorts by the named field. Records missing the field sort
// last regardless of direction.
func sortItems(items []store.Record, s *Sort) []store.Record {
	sorted := make([]store.Record, len(items))
	copy(sorted, items)
	desc := strings.EqualFold(s.Order, "desc")

	sort.SliceStable(sorted, func(i, j int) bool {
		vi, oki := sorted[i][s.By]
		vj, okj := sorted[j][s.By]
		if !oki || vi == nil {
			return false
		}
		if !okj || vj == nil {
			return true
		}
		less := lessValue(vi, vj)
		if desc {
			return lessValue(vj, vi)
		}
		return less
	})
	return sorted
}

func lessValue(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af < bf
	}
	return fmt.Sprintf("%v", a) < fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func extractIDs(items []store.Record, idField string) []string {
	if idField == "" {
		return nil
	}
	var ids []string
	for _, item := range items {
		if v, ok := item[idField]; ok && v != nil {
			ids = append(ids, fmt.Sprintf("%v", v))
		}
	}
	return ids
}
