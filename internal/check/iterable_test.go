package check

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type query struct {
	Name  string
	Query string
}

type namedTarget struct{ host string }

func (n namedTarget) Name() string { return n.host }

type describedMetric struct{ key string }

func (d describedMetric) CheckSpec() Spec {
	return Spec{Name: "Check metric " + d.key, Description: "metric " + d.key, Tags: []string{"metric"}}
}

func TestAddEach_NamesFromItems(t *testing.T) {
	c := NewCollection(nil)
	queries := []query{{Name: "throughput", Query: "rate(x[1m])"}, {Name: "errors", Query: "sum(y)"}}
	if err := AddEach(c, queries, func(q query) (bool, string) {
		return true, q.Query
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "Check throughput,Check errors" {
		t.Fatalf("unexpected names: %s", names(results))
	}
	if results[1].Message != "sum(y)" {
		t.Fatalf("expected handler to receive its own item, got %s", results[1].Message)
	}
	if results[0].ID != GenerateID("Check throughput") {
		t.Fatalf("expected digest id, got %s", results[0].ID)
	}
}

func TestAddEach_NameSources(t *testing.T) {
	c := NewCollection(nil)
	if err := AddEach(c, []namedTarget{{host: "db"}}, func(context.Context, namedTarget) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := AddEach(c, []describedMetric{{key: "cpu"}}, func(describedMetric) bool { return true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := AddEach(c, []int{7}, func(int) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	specs := c.Specs()
	if names(specs) != "Check db,Check metric cpu,Check 7" {
		t.Fatalf("unexpected names: %s", names(specs))
	}
	if specs[1].Description != "metric cpu" || strings.Join(specs[1].Tags, ",") != "metric" {
		t.Fatalf("expected checkable metadata, got %+v", specs[1])
	}
}

func TestAddEach_Options(t *testing.T) {
	c := NewCollection(nil)
	queries := []query{{Name: "a", Query: `up{job="api"}`}}
	err := AddEach(c, queries, func(q query) error { return fmt.Errorf("no data for %s", q.Name) },
		WithNameTemplate(`Run query "{{ .Query }}"`),
		WithRequired(),
		WithTags("query"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := results[0]
	if r.Name != `Run query "up{job="api"}"` {
		t.Fatalf("unexpected templated name: %s", r.Name)
	}
	if !r.Required || strings.Join(r.Tags, ",") != "query" {
		t.Fatalf("expected required tagged check, got %+v", r)
	}
	if !r.Failed() || r.Exception == nil {
		t.Fatalf("expected handler error to fail the check")
	}
}

func TestAddEach_TemplatedNamesKeepItemIDs(t *testing.T) {
	c := NewCollection(nil)
	queries := []query{{Name: "throughput", Query: "up"}, {Name: "availability", Query: "up"}}
	if err := AddEach(c, queries, func(query) bool { return true }, WithNameTemplate(`Run query "{{ .Query }}"`)); err != nil {
		t.Fatalf("expected items sharing a rendered name to register, got %v", err)
	}

	specs := c.Specs()
	if names(specs) != `Run query "up",Run query "up"` {
		t.Fatalf("unexpected names: %s", names(specs))
	}
	if specs[0].ID != GenerateID("Check throughput") || specs[1].ID != GenerateID("Check availability") {
		t.Fatalf("expected ids from item names, got %s and %s", specs[0].ID, specs[1].ID)
	}

	described := NewCollection(nil)
	if err := AddEach(described, []describedMetric{{key: "cpu"}}, func(describedMetric) {}, WithNameTemplate("cpu usage")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := described.Specs()[0].ID; got != GenerateID("Check metric cpu") {
		t.Fatalf("expected id from the item's spec name, got %s", got)
	}
}

func TestAddEach_AppendsAfterExistingChecks(t *testing.T) {
	c := NewCollection(nil)
	mustDefine(t, c, Spec{Name: "Resolve host", ID: "resolve", Required: true}, func() bool { return false })
	if err := AddEach(c, []string{"one", "two"}, func(s string) bool { return true }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "Resolve host" {
		t.Fatalf("expected required failure to halt before generated checks, got %s", names(results))
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 checks, got %d", c.Len())
	}
}

func TestAddEach_Errors(t *testing.T) {
	c := NewCollection(nil)
	var sigErr *SignatureError
	if err := AddEach(c, []query{{Name: "a"}}, func(string) bool { return true }); !errors.As(err, &sigErr) {
		t.Fatalf("expected signature error for mismatched item type, got %v", err)
	}
	if err := AddEach(c, []query{{Name: "a"}}, func() bool { return true }); !errors.As(err, &sigErr) {
		t.Fatalf("expected signature error for missing item parameter, got %v", err)
	}
	if err := AddEach(c, []query{{Name: "a"}}, func(query) {}, WithNameTemplate("{{ .Missing }}")); err == nil {
		t.Fatalf("expected template error for unknown field")
	}
	if err := AddEach(c, []query{{Name: "a"}}, func(query) {}, WithTags("Bad")); err == nil {
		t.Fatalf("expected invalid tag to be rejected")
	}
	if err := AddEach(c, []query{{Name: "a"}, {Name: "a"}}, func(query) {}); err == nil {
		t.Fatalf("expected duplicate generated ids to be rejected")
	}
}
