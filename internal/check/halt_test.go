package check

import "testing"

func TestParseHaltPolicy(t *testing.T) {
	cases := map[string]HaltPolicy{
		"":            HaltOnRequirement,
		"requirement": HaltOnRequirement,
		" Check ":     HaltOnCheck,
		"NEVER":       HaltNever,
	}
	for input, want := range cases {
		got, err := ParseHaltPolicy(input)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("expected %s for %q, got %s", want, input, got)
		}
	}

	if _, err := ParseHaltPolicy("sometimes"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestHaltPolicy_Halts(t *testing.T) {
	failedRequired := Result{Name: "a", Required: true}
	failedRequired.setSuccess(false)
	failedOptional := Result{Name: "b"}
	failedOptional.setSuccess(false)
	passedRequired := Result{Name: "c", Required: true}
	passedRequired.setSuccess(true)

	cases := []struct {
		policy HaltPolicy
		result Result
		want   bool
	}{
		{HaltOnRequirement, failedRequired, true},
		{HaltOnRequirement, failedOptional, false},
		{HaltOnRequirement, passedRequired, false},
		{HaltOnCheck, failedOptional, true},
		{HaltOnCheck, passedRequired, false},
		{HaltNever, failedRequired, false},
	}
	for _, tc := range cases {
		if got := tc.policy.Halts(tc.result); got != tc.want {
			t.Fatalf("expected %s halts=%v for %s, got %v", tc.policy, tc.want, tc.result.Name, got)
		}
	}
}
