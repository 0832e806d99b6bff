package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tanvi/sahayak/internal/llm"
	"github.com/tanvi/sahayak/internal/registry"
	"github.com/tanvi/sahayak/internal/store"
)

// Operation is one of the five primitive entity operations.
type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpList   Operation = "list"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpRead, OpUpdate, OpDelete, OpList:
		return true
	}
	return false
}

// CrudResult is the uniform envelope every dispatch returns. Both the single
// operation path and the plan executor consume it identically.
type CrudResult struct {
	Success    bool
	Operation  Operation
	EntityType string
	Table      string
	Details    string
	Data       any
	Err        string
}

// storeTimeout bounds each underlying store call so a wedged database
// surfaces as a normal failed result instead of a hung request.
const storeTimeout = 10 * time.Second

// Dispatcher translates one (operation, entityType, data) triple into a store
// call with validation. It never panics or returns an error past this
// boundary; every failure becomes a CrudResult.
type Dispatcher struct {
	Registry     *registry.Registry
	Collaborator llm.Collaborator // optional, used for best-effort field extraction
}

func NewDispatcher(reg *registry.Registry, collab llm.Collaborator) *Dispatcher {
	return &Dispatcher{Registry: reg, Collaborator: collab}
}

// Dispatch validates and executes one operation against the registered store
// handles. Hints are already-extracted field values; rawInstruction is the
// original text, consulted only for best-effort field extraction on create
// and update.
func (d *Dispatcher) Dispatch(ctx context.Context, op Operation, entityType, rawInstruction string, hints map[string]string) (result CrudResult) {
	result = CrudResult{Operation: op, EntityType: entityType}

	// The store handles are plain functions; a misconfigured handle must
	// surface as a failed result, not take down the request.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Err = fmt.Sprintf("internal dispatch failure: %v", r)
		}
	}()

	cfg, err := d.Registry.Lookup(entityType)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	result.Table = cfg.Table

	if !op.Valid() {
		result.Err = fmt.Sprintf("unknown operation %q", op)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	switch op {
	case OpCreate:
		return d.create(ctx, cfg, result, rawInstruction, hints)
	case OpRead:
		return d.read(ctx, cfg, result, hints)
	case OpUpdate:
		return d.update(ctx, cfg, result, rawInstruction, hints)
	case OpDelete:
		return d.delete(ctx, cfg, result, hints)
	default:
		return d.list(ctx, cfg, result)
	}
}

func (d *Dispatcher) create(ctx context.Context, cfg registry.EntityConfig, result CrudResult, rawInstruction string, hints map[string]string) CrudResult {
	if cfg.Operations.Create == nil {
		result.Err = fmt.Sprintf("create operation is not configured for %q", result.EntityType)
		return result
	}

	draft := d.draftFromHints(cfg, hints)

	// Best-effort: ask the model to pull any remaining declared fields out
	// of the free text. Extraction failure is non-fatal.
	if missing := missingFields(cfg, draft); len(missing) > 0 && d.Collaborator != nil && rawInstruction != "" {
		for k, v := range d.extractFields(ctx, cfg, rawInstruction, missing) {
			if _, exists := draft[k]; !exists {
				draft[k] = v
			}
		}
	}

	if err := cfg.ValidateDraft(draft); err != nil {
		result.Err = err.Error()
		return result
	}

	created, err := cfg.Operations.Create(ctx, draft)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Success = true
	result.Data = created
	result.Details = fmt.Sprintf("created %s %q", result.EntityType, created.ID)
	return result
}

func (d *Dispatcher) read(ctx context.Context, cfg registry.EntityConfig, result CrudResult, hints map[string]string) CrudResult {
	if cfg.Operations.Read == nil {
		result.Err = fmt.Sprintf("read operation is not configured for %q", result.EntityType)
		return result
	}
	id, ok := identifierFrom(cfg, hints)
	if !ok {
		result.Err = fmt.Sprintf("missing identifier %q for read", cfg.IdentifierField)
		return result
	}

	rec, err := cfg.Operations.Read(ctx, id)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Success = true
	result.Data = rec
	result.Details = fmt.Sprintf("read %s %q", result.EntityType, id)
	return result
}

func (d *Dispatcher) update(ctx context.Context, cfg registry.EntityConfig, result CrudResult, rawInstruction string, hints map[string]string) CrudResult {
	if cfg.Operations.Update == nil {
		result.Err = fmt.Sprintf("update operation is not configured for %q", result.EntityType)
		return result
	}
	id, ok := identifierFrom(cfg, hints)
	if !ok {
		result.Err = fmt.Sprintf("missing identifier %q for update", cfg.IdentifierField)
		return result
	}

	fields := d.draftFromHints(cfg, hints)
	delete(fields, cfg.IdentifierField)

	if len(fields) == 0 && d.Collaborator != nil && rawInstruction != "" {
		for k, v := range d.extractFields(ctx, cfg, rawInstruction, declaredNames(cfg)) {
			if k != cfg.IdentifierField {
				fields[k] = v
			}
		}
	}
	if len(fields) == 0 {
		result.Err = "no update fields could be determined"
		return result
	}

	for name := range fields {
		if f, declared := cfg.FieldNamed(name); declared && f.Validate != nil {
			if err := f.Validate(fields[name]); err != nil {
				result.Err = fmt.Sprintf("field %q: %v", name, err)
				return result
			}
		}
	}

	ack, err := cfg.Operations.Update(ctx, id, fields)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Success = true
	result.Data = ack
	result.Details = fmt.Sprintf("updated %s %q (%d affected)", result.EntityType, id, ack.Affected)
	return result
}

func (d *Dispatcher) delete(ctx context.Context, cfg registry.EntityConfig, result CrudResult, hints map[string]string) CrudResult {
	if cfg.Operations.Delete == nil {
		result.Err = fmt.Sprintf("delete operation is not configured for %q", result.EntityType)
		return result
	}
	id, ok := identifierFrom(cfg, hints)
	if !ok {
		result.Err = fmt.Sprintf("missing identifier %q for delete", cfg.IdentifierField)
		return result
	}

	ack, err := cfg.Operations.Delete(ctx, id)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Success = true
	result.Data = ack
	result.Details = fmt.Sprintf("deleted %s %q", result.EntityType, id)
	return result
}

func (d *Dispatcher) list(ctx context.Context, cfg registry.EntityConfig, result CrudResult) CrudResult {
	if cfg.Operations.List == nil {
		result.Err = fmt.Sprintf("list operation is not configured for %q", result.EntityType)
		return result
	}

	listed, err := cfg.Operations.List(ctx)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	result.Success = true
	result.Data = listed
	result.Details = fmt.Sprintf("listed %d %s record(s)", listed.Count, result.EntityType)
	return result
}

// draftFromHints keeps declared fields only, coerced to their declared types.
func (d *Dispatcher) draftFromHints(cfg registry.EntityConfig, hints map[string]string) store.Record {
	draft := store.Record{}
	for name, raw := range hints {
		f, ok := cfg.FieldNamed(name)
		if !ok {
			continue
		}
		draft[name] = coerce(f.Type, raw)
	}
	return draft
}

func coerce(t registry.FieldType, raw string) any {
	switch t {
	case registry.TypeNumber, registry.TypeOptionalNumber:
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return n
		}
	case registry.TypeBoolean:
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return b
		}
	}
	return raw
}

func identifierFrom(cfg registry.EntityConfig, hints map[string]string) (string, bool) {
	v, ok := hints[cfg.IdentifierField]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func missingFields(cfg registry.EntityConfig, draft store.Record) []string {
	var missing []string
	for _, f := range cfg.Fields {
		if _, ok := draft[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func declaredNames(cfg registry.EntityConfig) []string {
	names := make([]string, 0, len(cfg.Fields))
	for _, f := range cfg.Fields {
		names = append(names, f.Name)
	}
	return names
}

// extractFields asks the collaborator to pull named fields out of free text.
// Any failure returns an empty map; the caller proceeds with what it has.
func (d *Dispatcher) extractFields(ctx context.Context, cfg registry.EntityConfig, rawInstruction string, fields []string) map[string]any {
	system := "You extract field values from user instructions. " +
		"Respond with a single JSON object containing only the requested fields that are clearly present in the text. " +
		"Omit fields you cannot find. No prose, no markdown."
	user := fmt.Sprintf("Fields: %s\n\nInstruction: %s", strings.Join(fields, ", "), rawInstruction)

	raw, err := d.Collaborator.Complete(ctx, system, user)
	if err != nil {
		return nil
	}

	var extracted map[string]any
	if err := llm.DecodeObject(raw, &extracted); err != nil {
		return nil
	}

	out := make(map[string]any, len(extracted))
	for name, v := range extracted {
		if _, declared := cfg.FieldNamed(name); declared && v != nil {
			out[name] = v
		}
	}
	return out
}
