package check

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type recorder struct {
	ran []string
}

func (r *recorder) handler(name string, pass bool) func() (bool, string) {
	return func() (bool, string) {
		r.ran = append(r.ran, name)
		return pass, name
	}
}

func mustDefine(t *testing.T, c *Collection, spec Spec, fn any) {
	t.Helper()
	if err := c.Define(spec, fn); err != nil {
		t.Fatalf("define %s: %v", spec.Name, err)
	}
}

func mustAddFunc(t *testing.T, c *Collection, name string, fn Func) {
	t.Helper()
	if err := c.AddFunc(name, fn); err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
}

func names(results []Result) string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Name)
	}
	return strings.Join(out, ",")
}

func TestCollection_RunsInRegistrationOrder(t *testing.T) {
	rec := &recorder{}
	c := NewCollection("config")
	for _, name := range []string{"C", "A", "B"} {
		if err := c.Define(Spec{Name: name, ID: strings.ToLower(name)}, rec.handler(name, true)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "C,A,B" {
		t.Fatalf("expected registration order, got %s", names(results))
	}
	if strings.Join(c.Methods(), ",") != "check_c,check_a,check_b" {
		t.Fatalf("unexpected method names: %v", c.Methods())
	}
	if c.Config() != "config" {
		t.Fatalf("expected config to be carried, got %v", c.Config())
	}
}

func TestCollection_FilterRunsPrecedingRequiredChecks(t *testing.T) {
	rec := &recorder{}
	c := NewCollection(nil)
	specs := []Spec{
		{Name: "A", ID: "a", Required: true},
		{Name: "B", ID: "b"},
		{Name: "C", ID: "c", Required: true},
		{Name: "D", ID: "d"},
		{Name: "E", ID: "e", Required: true},
	}
	for _, spec := range specs {
		if err := c.Define(spec, rec.handler(spec.Name, true)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	results, err := c.Run(context.Background(), WithFilter(Filter{ID: Exact("d")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "A,C,D" {
		t.Fatalf("expected A,C,D, got %s", names(results))
	}
	if strings.Join(rec.ran, ",") != "A,C,D" {
		t.Fatalf("expected only A,C,D to execute, got %v", rec.ran)
	}
}

func TestCollection_FilteredOutRequiredFailureHaltsRun(t *testing.T) {
	rec := &recorder{}
	c := NewCollection(nil)
	mustDefine(t, c, Spec{Name: "A", ID: "a", Required: true}, rec.handler("A", false))
	mustDefine(t, c, Spec{Name: "B", ID: "b"}, rec.handler("B", true))
	mustDefine(t, c, Spec{Name: "C", ID: "c", Required: true}, rec.handler("C", true))
	mustDefine(t, c, Spec{Name: "D", ID: "d"}, rec.handler("D", true))

	var halted []string
	results, err := c.Run(context.Background(),
		WithFilter(Filter{ID: Exact("d")}),
		OnHalt(func(r Result, skipped int) {
			halted = append(halted, fmt.Sprintf("%s:%d", r.Name, skipped))
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "A" {
		t.Fatalf("expected run to end at A, got %s", names(results))
	}
	if strings.Join(rec.ran, ",") != "A" {
		t.Fatalf("expected only A to execute, got %v", rec.ran)
	}
	if strings.Join(halted, ",") != "A:1" {
		t.Fatalf("expected a halt at A skipping D, got %v", halted)
	}
}

func TestCollection_FailingLastCheckIsNotAHalt(t *testing.T) {
	rec := &recorder{}
	c := NewCollection(nil)
	mustDefine(t, c, Spec{Name: "A", ID: "a"}, rec.handler("A", true))
	mustDefine(t, c, Spec{Name: "B", ID: "b", Required: true}, rec.handler("B", false))
	mustDefine(t, c, Spec{Name: "C", ID: "c", Required: true}, rec.handler("C", true))

	halts := 0
	onHalt := OnHalt(func(Result, int) { halts++ })

	results, err := c.Run(context.Background(), WithFilter(Filter{ID: Exact("b")}), onHalt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "B" || halts != 0 {
		t.Fatalf("expected B alone without a halt, got %s and %d halts", names(results), halts)
	}

	results, err = c.Run(context.Background(), onHalt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "A,B" || halts != 1 {
		t.Fatalf("expected a halt at B before C, got %s and %d halts", names(results), halts)
	}
}

func TestCollection_FilterWithoutMatchesRunsNothing(t *testing.T) {
	rec := &recorder{}
	c := NewCollection(nil)
	if err := c.Define(Spec{Name: "A", ID: "a", Required: true}, rec.handler("A", true)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results, err := c.Run(context.Background(), WithFilter(Filter{Name: Exact("missing")}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 || len(rec.ran) != 0 {
		t.Fatalf("expected nothing to run, got %s", names(results))
	}
}

func TestCollection_HaltPolicies(t *testing.T) {
	build := func(t *testing.T, rec *recorder) *Collection {
		c := NewCollection(nil)
		mustDefine(t, c, Spec{Name: "A", ID: "a"}, rec.handler("A", true))
		mustDefine(t, c, Spec{Name: "B", ID: "b", Required: true}, rec.handler("B", false))
		mustDefine(t, c, Spec{Name: "C", ID: "c"}, rec.handler("C", true))
		return c
	}

	cases := []struct {
		policy HaltPolicy
		want   string
	}{
		{HaltOnRequirement, "A,B"},
		{HaltOnCheck, "A,B"},
		{HaltNever, "A,B,C"},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			rec := &recorder{}
			results, err := Run(context.Background(), build(t, rec), Filter{}, tc.policy)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if names(results) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, names(results))
			}
			if !results[1].Failed() {
				t.Fatalf("expected B to fail")
			}
		})
	}
}

func TestCollection_HaltOnCheckStopsOnOptionalFailure(t *testing.T) {
	rec := &recorder{}
	c := NewCollection(nil)
	mustDefine(t, c, Spec{Name: "A", ID: "a"}, rec.handler("A", false))
	mustDefine(t, c, Spec{Name: "B", ID: "b"}, rec.handler("B", true))

	results, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "A,B" {
		t.Fatalf("expected optional failure not to halt by default, got %s", names(results))
	}

	rec.ran = nil
	results, err = c.Run(context.Background(), WithHaltOn(HaltOnCheck))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "A" {
		t.Fatalf("expected run to stop after A, got %s", names(results))
	}
}

func TestCollection_RegistrationErrors(t *testing.T) {
	c := NewCollection(nil)
	ok := Func(func(context.Context) (Result, error) { return Result{Name: "ok"}, nil })

	if err := c.AddFunc("verify", ok); err == nil {
		t.Fatalf("expected error for name without check_ prefix")
	}
	if err := c.AddFunc("check_", ok); err == nil {
		t.Fatalf("expected error for bare prefix")
	}
	if err := c.AddFunc("_helper", ok); err != nil {
		t.Fatalf("expected helper name to be ignored, got %v", err)
	}
	if err := c.AddFunc("check_ok", nil); err == nil {
		t.Fatalf("expected error for nil function")
	}
	if err := c.AddFunc("check_ok", ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.AddFunc("check_ok", ok); err == nil {
		t.Fatalf("expected duplicate name to be rejected")
	}
	if err := c.Define(Spec{Name: "x", ID: "ok"}, func() {}); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}
	if err := c.Add(nil); err == nil {
		t.Fatalf("expected nil check to be rejected")
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 registered check, got %d", c.Len())
	}
}

func TestCollection_ContractErrors(t *testing.T) {
	cases := map[string]Func{
		"error":        func(context.Context) (Result, error) { return Result{}, errors.New("boom") },
		"empty result": func(context.Context) (Result, error) { return Result{}, nil },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewCollection(nil)
			mustDefine(t, c, Spec{Name: "first", ID: "first"}, func() bool { return true })
			mustAddFunc(t, c, "check_broken", fn)

			results, err := c.Run(context.Background())
			var contractErr *ContractError
			if !errors.As(err, &contractErr) {
				t.Fatalf("expected contract error, got %v", err)
			}
			if contractErr.Method != "check_broken" {
				t.Fatalf("expected method check_broken, got %s", contractErr.Method)
			}
			if len(results) != 1 {
				t.Fatalf("expected results before the failure to be returned, got %d", len(results))
			}
		})
	}
}

func TestCollection_UnexpectedReturnAbortsRun(t *testing.T) {
	c := NewCollection(nil)
	mustAddFunc(t, c, "check_numbers", func(ctx context.Context) (Result, error) {
		return RunFunc(ctx, "numbers", "", func() Verdict { return Verdict{Success: true} })
	})
	r, err := NewResult(Spec{Name: "odd"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Add(&Check{meta: r, handler: func(context.Context) (any, error) { return 3.5, nil }}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = c.Run(context.Background())
	var unexpected *UnexpectedReturnError
	if !errors.As(err, &unexpected) {
		t.Fatalf("expected unexpected return error, got %v", err)
	}
}

func TestCollection_FilterSkipsEntriesWithoutMetadata(t *testing.T) {
	var buf bytes.Buffer
	ran := false
	c := NewCollection(nil)
	mustAddFunc(t, c, "check_manual", func(ctx context.Context) (Result, error) {
		ran = true
		return RunFunc(ctx, "manual", "", func() {})
	})
	mustDefine(t, c, Spec{Name: "Check tagged", ID: "tagged", Tags: []string{"net"}}, func() {})

	results, err := c.Run(context.Background(), WithFilter(Filter{Tags: []string{"net"}}), WithLogger(zerolog.New(&buf)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Fatalf("expected entry without metadata to be skipped")
	}
	if names(results) != "Check tagged" {
		t.Fatalf("expected only tagged check, got %s", names(results))
	}
	if !strings.Contains(buf.String(), "non-filterable check method") {
		t.Fatalf("expected warning to be logged, got %s", buf.String())
	}

	results, err = c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if names(results) != "manual,Check tagged" {
		t.Fatalf("expected both checks without a filter, got %s", names(results))
	}
}

func TestCollection_Specs(t *testing.T) {
	c := NewCollection(nil)
	mustDefine(t, c, Spec{Name: "A", ID: "a", Required: true}, func() {})
	mustAddFunc(t, c, "check_manual", func(ctx context.Context) (Result, error) {
		return RunFunc(ctx, "manual", "", func() {})
	})
	mustDefine(t, c, Spec{Name: "B", ID: "b"}, func() {})

	specs := c.Specs()
	if names(specs) != "A,B" {
		t.Fatalf("expected specs for A,B, got %s", names(specs))
	}
	for _, s := range specs {
		if s.HasRun() {
			t.Fatalf("expected unrun specs")
		}
	}
}
