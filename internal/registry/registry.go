package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tanvi/sahayak/internal/store"
)

// ErrNotConfigured reports a lookup for an entity type nothing registered.
var ErrNotConfigured = errors.New("registry: entity type is not configured")

// FieldType enumerates the declared types an entity field may carry.
type FieldType string

const (
	TypeString         FieldType = "string"
	TypeNumber         FieldType = "number"
	TypeBoolean        FieldType = "boolean"
	TypeOptionalString FieldType = "optional-string"
	TypeOptionalNumber FieldType = "optional-number"
)

// Field describes one declared entity field. Order matters for schema
// descriptions, so configs carry a slice rather than a map.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Validate func(v any) error // optional custom validator
}

// Operations holds the typed store handles for one entity, resolved once at
// registration time. No string-path walking happens at dispatch time.
type Operations struct {
	Create func(ctx context.Context, rec store.Record) (store.CreateResult, error)
	Read   func(ctx context.Context, id string) (store.Record, error)
	Update func(ctx context.Context, id string, fields store.Record) (store.Ack, error)
	Delete func(ctx context.Context, id string) (store.Ack, error)
	List   func(ctx context.Context) (store.ListResult, error)
	Count  func(ctx context.Context) (int, error)
}

// EntityConfig is the full registration record for one entity type.
type EntityConfig struct {
	Table           string
	Fields          []Field
	IdentifierField string
	Operations      Operations
}

// FieldNamed returns the declared field with the given name.
func (c EntityConfig) FieldNamed(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ValidateDraft checks a draft record against the declared schema: every
// required field present and non-empty, every custom validator passing.
// The returned error names the offending field.
func (c EntityConfig) ValidateDraft(rec store.Record) error {
	for _, f := range c.Fields {
		v, ok := rec[f.Name]
		if !ok || v == nil || fmt.Sprintf("%v", v) == "" {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if f.Validate != nil {
			if err := f.Validate(v); err != nil {
				return fmt.Errorf("field %q: %v", f.Name, err)
			}
		}
	}
	return nil
}

// Registry maps entity type names to their configs. Registration happens at
// startup; reads are concurrent afterwards, so access is guarded.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]EntityConfig
}

func New() *Registry {
	return &Registry{entities: make(map[string]EntityConfig)}
}

func (r *Registry) Register(entityType string, cfg EntityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg.Table == "" {
		cfg.Table = entityType
	}
	r.entities[entityType] = cfg
}

func (r *Registry) Get(entityType string) (EntityConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.entities[entityType]
	return cfg, ok
}

// Lookup is Get with the error form of a miss.
func (r *Registry) Lookup(entityType string) (EntityConfig, error) {
	cfg, ok := r.Get(entityType)
	if !ok {
		return EntityConfig{}, fmt.Errorf("%w: %q", ErrNotConfigured, entityType)
	}
	return cfg, nil
}

// Types returns the registered entity type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DescribeSchemas renders every registered schema as prompt-ready text. The
// output goes verbatim into planner and classifier prompts.
func (r *Registry) DescribeSchemas() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		cfg := r.entities[name]
		fmt.Fprintf(&sb, "Entity %q (table %q, identified by %q):\n", name, cfg.Table, cfg.IdentifierField)
		for _, f := range cfg.Fields {
			req := "optional"
			if f.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "  - %s: %s (%s)\n", f.Name, f.Type, req)
		}
	}
	return sb.String()
}

// BindEntityStore resolves the five operation handles for one entity against
// the document store.
func BindEntityStore(es *store.EntityStore, table, identifierField string) Operations {
	return Operations{
		Create: func(ctx context.Context, rec store.Record) (store.CreateResult, error) {
			return es.Create(ctx, table, identifierField, rec)
		},
		Read: func(ctx context.Context, id string) (store.Record, error) {
			return es.Read(ctx, table, id)
		},
		Update: func(ctx context.Context, id string, fields store.Record) (store.Ack, error) {
			return es.Update(ctx, table, id, fields)
		},
		Delete: func(ctx context.Context, id string) (store.Ack, error) {
			return es.Delete(ctx, table, id)
		},
		List: func(ctx context.Context) (store.ListResult, error) {
			return es.List(ctx, table)
		},
		Count: func(ctx context.Context) (int, error) {
			return es.Count(ctx, table)
		},
	}
}
