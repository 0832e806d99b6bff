package plan

import (
	"context"
	"fmt"
	"testing"

	"github.com/tanvi/sahayak/internal/dispatch"
	"github.com/tanvi/sahayak/internal/registry"
	"github.com/tanvi/sahayak/internal/store"
)

// fakeDispatcher records every call and answers from a scripted handler.
type fakeDispatcher struct {
	calls   []fakeCall
	handler func(op dispatch.Operation, entityType string, hints map[string]string) dispatch.CrudResult
}

type fakeCall struct {
	Op         dispatch.Operation
	EntityType string
	Hints      map[string]string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, op dispatch.Operation, entityType, raw string, hints map[string]string) dispatch.CrudResult {
	f.calls = append(f.calls, fakeCall{Op: op, EntityType: entityType, Hints: hints})
	return f.handler(op, entityType, hints)
}

func (f *fakeDispatcher) callsFor(op dispatch.Operation) int {
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func usersRegistry() *registry.Registry {
	reg := registry.New()
	reg.Register("users", registry.EntityConfig{
		Fields: []registry.Field{
			{Name: "name", Type: registry.TypeString},
			{Name: "email", Type: registry.TypeString, Required: true},
		},
		IdentifierField: "email",
	})
	reg.Register("notes", registry.EntityConfig{
		Fields: []registry.Field{
			{Name: "id", Type: registry.TypeString},
			{Name: "title", Type: registry.TypeString},
			{Name: "recipient", Type: registry.TypeString},
		},
		IdentifierField: "id",
	})
	return reg
}

func userItems(emails ...string) []store.Record {
	items := make([]store.Record, 0, len(emails))
	for i, email := range emails {
		items = append(items, store.Record{
			"email":         email,
			"name":          fmt.Sprintf("user%d", i),
			"_creationTime": float64(1000 + i),
		})
	}
	return items
}

// listThenCreate builds the common two-step plan: list users, then create one
// gated on the list's count.
func listThenCreate(condType string, value float64) *ExecutionPlan {
	return &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users"},
		{ID: "s2", Operation: dispatch.OpCreate, EntityType: "users",
			Data:      map[string]any{"email": "new@example.com", "name": "new"},
			Condition: &Condition{Type: condType, FromStep: "s1", Value: value}},
	}}
}

func listHandler(items []store.Record) func(dispatch.Operation, string, map[string]string) dispatch.CrudResult {
	return func(op dispatch.Operation, entityType string, hints map[string]string) dispatch.CrudResult {
		switch op {
		case dispatch.OpList:
			return dispatch.CrudResult{Success: true, Operation: op, EntityType: entityType,
				Data: store.ListResult{Count: len(items), Items: items}}
		case dispatch.OpCreate:
			return dispatch.CrudResult{Success: true, Operation: op, EntityType: entityType,
				Data: store.CreateResult{ID: hints["email"]}, Details: "created"}
		case dispatch.OpDelete:
			return dispatch.CrudResult{Success: true, Operation: op, EntityType: entityType,
				Data: store.Ack{Affected: 1}}
		default:
			return dispatch.CrudResult{Success: true, Operation: op, EntityType: entityType}
		}
	}
}

func TestExecute_ConditionHolds(t *testing.T) {
	// Two users in the store, condition count_lte 3: step 2 runs.
	fd := &fakeDispatcher{handler: listHandler(userItems("a@x.com", "b@x.com"))}
	ex := NewExecutor(fd, usersRegistry())

	results := ex.Execute(context.Background(), listThenCreate(CondCountLTE, 3))
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Meta.Skipped {
		t.Fatal("step 2 should not be skipped")
	}
	if !results[1].Success || results[1].Count != 1 {
		t.Errorf("step 2 should succeed once: %+v", results[1])
	}
	if fd.callsFor(dispatch.OpCreate) != 1 {
		t.Errorf("expected 1 create call, got %d", fd.callsFor(dispatch.OpCreate))
	}
}

func TestExecute_ConditionGatesOut(t *testing.T) {
	// Five users, condition count_lte 3: step 2 is gated out and the
	// dispatcher never sees it.
	fd := &fakeDispatcher{handler: listHandler(userItems("a@x", "b@x", "c@x", "d@x", "e@x"))}
	ex := NewExecutor(fd, usersRegistry())

	results := ex.Execute(context.Background(), listThenCreate(CondCountLTE, 3))
	if !results[1].Meta.Skipped {
		t.Fatal("step 2 should be skipped")
	}
	if !results[1].Success {
		t.Error("a skipped step still resolves successfully")
	}
	if results[1].Count != 0 {
		t.Errorf("skipped step count should be 0, got %d", results[1].Count)
	}
	if fd.callsFor(dispatch.OpCreate) != 0 {
		t.Errorf("dispatcher must not see gated-out steps, got %d create calls", fd.callsFor(dispatch.OpCreate))
	}
}

func TestExecute_ConditionBoundaries(t *testing.T) {
	items := userItems("a@x", "b@x", "c@x")

	// count_gt with value == count is false; count_gte is true.
	fd := &fakeDispatcher{handler: listHandler(items)}
	ex := NewExecutor(fd, usersRegistry())
	results := ex.Execute(context.Background(), listThenCreate(CondCountGT, 3))
	if !results[1].Meta.Skipped {
		t.Error("count_gt at the boundary must be false")
	}

	fd = &fakeDispatcher{handler: listHandler(items)}
	ex = NewExecutor(fd, usersRegistry())
	results = ex.Execute(context.Background(), listThenCreate(CondCountGTE, 3))
	if results[1].Meta.Skipped {
		t.Error("count_gte at the boundary must be true")
	}
}

func TestExecute_ConditionFailsClosed(t *testing.T) {
	fd := &fakeDispatcher{handler: listHandler(nil)}
	ex := NewExecutor(fd, usersRegistry())

	// References to a missing step and to a later step both skip, never
	// error.
	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpCreate, EntityType: "users",
			Data:      map[string]any{"email": "a@x.com"},
			Condition: &Condition{Type: CondExists, FromStep: "nope"}},
		{ID: "s2", Operation: dispatch.OpCreate, EntityType: "users",
			Data:      map[string]any{"email": "b@x.com"},
			Condition: &Condition{Type: CondExists, FromStep: "s3"}},
		{ID: "s3", Operation: dispatch.OpList, EntityType: "users"},
	}}
	results := ex.Execute(context.Background(), p)
	if !results[0].Meta.Skipped || !results[1].Meta.Skipped {
		t.Error("bad references must fail closed (skip)")
	}
	if fd.callsFor(dispatch.OpCreate) != 0 {
		t.Errorf("expected no create calls, got %d", fd.callsFor(dispatch.OpCreate))
	}
}

func TestExecute_UnknownComparatorFailsClosed(t *testing.T) {
	fd := &fakeDispatcher{handler: listHandler(userItems("a@x"))}
	ex := NewExecutor(fd, usersRegistry())

	results := ex.Execute(context.Background(), listThenCreate("count_wat", 1))
	if !results[1].Meta.Skipped {
		t.Error("unknown comparator must fail closed")
	}
}

func TestExecute_UnknownEntityFailsCleanly(t *testing.T) {
	// The dispatcher answers as the real one does for unconfigured types;
	// execute must record the failure and keep going.
	fd := &fakeDispatcher{handler: func(op dispatch.Operation, entityType string, hints map[string]string) dispatch.CrudResult {
		return dispatch.CrudResult{Operation: op, EntityType: entityType,
			Err: fmt.Sprintf("entity type %q is not configured", entityType)}
	}}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "products"},
	}}
	results := ex.Execute(context.Background(), p)
	if results[0].Success {
		t.Fatal("expected failure")
	}
	if results[0].Err == "" {
		t.Error("expected error text mentioning configuration")
	}
}

func TestExecute_PartialFailureContinues(t *testing.T) {
	fd := &fakeDispatcher{handler: func(op dispatch.Operation, entityType string, hints map[string]string) dispatch.CrudResult {
		if entityType == "products" {
			return dispatch.CrudResult{Err: "entity type \"products\" is not configured"}
		}
		return dispatch.CrudResult{Success: true, Data: store.ListResult{}}
	}}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "products"},
		{ID: "s2", Operation: dispatch.OpList, EntityType: "users"},
	}}
	results := ex.Execute(context.Background(), p)
	if results[0].Success {
		t.Error("step 1 should fail")
	}
	if !results[1].Success {
		t.Error("independent step 2 should still run and succeed")
	}
}

func TestExecute_FanOut(t *testing.T) {
	items := userItems("a@x.com", "b@x.com", "c@x.com")
	fd := &fakeDispatcher{handler: listHandler(items)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users"},
		{ID: "s2", Operation: dispatch.OpCreate, EntityType: "notes", FromStep: "s1",
			DataTemplate: map[string]string{
				"id":        "note-{{item.email}}",
				"title":     "note for {{item.name}}",
				"recipient": "{{item.email|redomain:archive.example.com}}",
			}},
	}}
	results := ex.Execute(context.Background(), p)

	if fd.callsFor(dispatch.OpCreate) != 3 {
		t.Fatalf("expected 3 fan-out creates, got %d", fd.callsFor(dispatch.OpCreate))
	}
	agg := results[1]
	if !agg.Success {
		t.Fatalf("aggregate should succeed: %+v", agg)
	}
	if agg.Count != 3 {
		t.Errorf("aggregate count should be the sum, got %d", agg.Count)
	}
	if len(agg.IDs) != 3 {
		t.Errorf("aggregate ids should have length 3, got %d", len(agg.IDs))
	}

	// Template-derived data reaches the dispatcher per item.
	var sawRecipient bool
	for _, c := range fd.calls {
		if c.Op == dispatch.OpCreate && c.Hints["recipient"] == "a@archive.example.com" {
			sawRecipient = true
		}
	}
	if !sawRecipient {
		t.Error("rendered template data did not reach the dispatcher")
	}
}

func TestExecute_FanOutDerivesIdentifier(t *testing.T) {
	items := userItems("a@x.com", "b@x.com")
	fd := &fakeDispatcher{handler: listHandler(items)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users"},
		{ID: "s2", Operation: dispatch.OpDelete, EntityType: "users", FromStep: "s1"},
	}}
	results := ex.Execute(context.Background(), p)

	deletes := 0
	for _, c := range fd.calls {
		if c.Op == dispatch.OpDelete {
			deletes++
			if c.Hints["email"] == "" {
				t.Error("identifier not derived from item")
			}
		}
	}
	if deletes != 2 {
		t.Fatalf("expected 2 deletes, got %d", deletes)
	}
	if results[1].Count != 2 {
		t.Errorf("expected aggregate count 2, got %d", results[1].Count)
	}
}

func TestExecute_FanOutEmptySource(t *testing.T) {
	fd := &fakeDispatcher{handler: listHandler(nil)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users"},
		{ID: "s2", Operation: dispatch.OpDelete, EntityType: "users", FromStep: "s1"},
	}}
	results := ex.Execute(context.Background(), p)
	if !results[1].Success || results[1].Count != 0 {
		t.Errorf("empty fan-out should be a trivial success: %+v", results[1])
	}
	if fd.callsFor(dispatch.OpDelete) != 0 {
		t.Error("no per-item calls expected for an empty source")
	}
}

func TestExecute_FanOutAggregatesFailure(t *testing.T) {
	items := userItems("a@x.com", "b@x.com")
	fd := &fakeDispatcher{handler: func(op dispatch.Operation, entityType string, hints map[string]string) dispatch.CrudResult {
		if op == dispatch.OpList {
			return dispatch.CrudResult{Success: true, Data: store.ListResult{Count: len(items), Items: items}}
		}
		if hints["email"] == "b@x.com" {
			return dispatch.CrudResult{Err: "record not found"}
		}
		return dispatch.CrudResult{Success: true, Data: store.Ack{Affected: 1}}
	}}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users"},
		{ID: "s2", Operation: dispatch.OpDelete, EntityType: "users", FromStep: "s1"},
	}}
	results := ex.Execute(context.Background(), p)
	if results[1].Success {
		t.Error("one failed item fails the aggregate")
	}
	if results[1].Count != 1 {
		t.Errorf("count should sum only successful acks, got %d", results[1].Count)
	}
}

func TestExecute_Repeat(t *testing.T) {
	fd := &fakeDispatcher{handler: listHandler(nil)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpCreate, EntityType: "notes", Repeat: 3,
			Data: map[string]any{"id": "n", "title": "t"}},
	}}
	results := ex.Execute(context.Background(), p)
	if fd.callsFor(dispatch.OpCreate) != 3 {
		t.Fatalf("expected 3 repeated creates, got %d", fd.callsFor(dispatch.OpCreate))
	}
	if results[0].Count != 3 || len(results[0].IDs) != 3 {
		t.Errorf("repeat aggregation wrong: count=%d ids=%d", results[0].Count, len(results[0].IDs))
	}
}

func TestExecute_SortThenLimit(t *testing.T) {
	// Items arrive from the store in scrambled order; sorting happens in
	// the executor, limiting strictly after sorting.
	items := []store.Record{
		{"email": "c@x.com", "_creationTime": float64(3000)},
		{"email": "a@x.com", "_creationTime": float64(1000)},
		{"email": "b@x.com", "_creationTime": float64(2000)},
	}
	fd := &fakeDispatcher{handler: listHandler(items)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users",
			Sort: &Sort{By: "_creationTime", Order: "asc"}, Limit: 1},
	}}
	results := ex.Execute(context.Background(), p)
	if results[0].Count != 1 {
		t.Fatalf("expected 1 item after limit, got %d", results[0].Count)
	}
	if results[0].Items[0]["email"] != "a@x.com" {
		t.Errorf("limit before sort is never permitted; got %v", results[0].Items[0]["email"])
	}
}

func TestExecute_SortNullsLast(t *testing.T) {
	items := []store.Record{
		{"email": "nil@x.com"},
		{"email": "b@x.com", "_creationTime": float64(2000)},
		{"email": "a@x.com", "_creationTime": float64(1000)},
	}

	for _, order := range []string{"asc", "desc"} {
		fd := &fakeDispatcher{handler: listHandler(items)}
		ex := NewExecutor(fd, usersRegistry())
		p := &ExecutionPlan{Steps: []Step{
			{ID: "s1", Operation: dispatch.OpList, EntityType: "users",
				Sort: &Sort{By: "_creationTime", Order: order}},
		}}
		results := ex.Execute(context.Background(), p)
		last := results[0].Items[len(results[0].Items)-1]
		if last["email"] != "nil@x.com" {
			t.Errorf("order %s: record without the sort field must sort last, got %v", order, last["email"])
		}
	}
}

func TestExecute_Filter(t *testing.T) {
	items := []store.Record{
		{"email": "a@x.com", "name": "asha"},
		{"email": "b@x.com", "name": "bodhi"},
	}
	fd := &fakeDispatcher{handler: listHandler(items)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users",
			Filter: map[string]any{"name": "asha"}},
	}}
	results := ex.Execute(context.Background(), p)
	if results[0].Count != 1 || results[0].Items[0]["email"] != "a@x.com" {
		t.Errorf("filter failed: %+v", results[0])
	}
}

func TestExecute_FanOutCountMatchesIDs(t *testing.T) {
	// When every per-item call succeeds, len(ids) equals the summed count.
	items := userItems("a@x.com", "b@x.com", "c@x.com", "d@x.com")
	fd := &fakeDispatcher{handler: listHandler(items)}
	ex := NewExecutor(fd, usersRegistry())

	p := &ExecutionPlan{Steps: []Step{
		{ID: "s1", Operation: dispatch.OpList, EntityType: "users"},
		{ID: "s2", Operation: dispatch.OpDelete, EntityType: "users", FromStep: "s1"},
	}}
	results := ex.Execute(context.Background(), p)
	if results[1].Count != len(results[1].IDs) {
		t.Errorf("count %d != len(ids) %d", results[1].Count, len(results[1].IDs))
	}
}
