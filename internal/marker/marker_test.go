package marker

import "testing"

func TestParseCompletionWithTrailingResult(t *testing.T) {
	r := Parse("Answer: 55 [COMPLETE]", []string{"a1", "a2"}, "a1")
	if r.Completion == nil {
		t.Fatal("expected completion marker")
	}
	if r.Completion.FinalResult != "Answer: 55" {
		t.Fatalf("FinalResult = %q, want %q", r.Completion.FinalResult, "Answer: 55")
	}
}

func TestParseCompletionWithNothingAfter(t *testing.T) {
	r := Parse("real answer\n[COMPLETE]", []string{"a1"}, "a1")
	if r.Completion == nil {
		t.Fatal("expected completion marker")
	}
	if r.Completion.FinalResult != "" {
		t.Fatalf("FinalResult = %q, want empty", r.Completion.FinalResult)
	}
}

func TestParseDelegation(t *testing.T) {
	r := Parse("I'll ask A2.\n@a2: compute fib(10)", []string{"a1", "a2"}, "a1")
	if r.Delegation == nil {
		t.Fatal("expected delegation marker")
	}
	if r.Delegation.Target != "a2" || r.Delegation.Task != "compute fib(10)" {
		t.Fatalf("Delegation = %+v", r.Delegation)
	}
}

func TestParseCompletionBeatsDelegation(t *testing.T) {
	r := Parse("@a2: do x\n[COMPLETE] done", []string{"a1", "a2"}, "a1")
	if r.Completion == nil {
		t.Fatal("completion should win over delegation in the same reply")
	}
	if r.Delegation != nil {
		t.Fatal("delegation should not be set when completion wins")
	}
}

func TestParseDoneTokenAlsoCompletes(t *testing.T) {
	r := Parse("all set [DONE]", []string{"a1"}, "a1")
	if r.Completion == nil {
		t.Fatal("expected [DONE] to be recognized as completion")
	}
}

func TestParseDelegationToSelfIsAbsent(t *testing.T) {
	r := Parse("@a1: talk to yourself", []string{"a1", "a2"}, "a1")
	if r.Found() {
		t.Fatalf("expected no marker for self-delegation, got %+v", r)
	}
}

func TestParseDelegationWithEmptyTaskIsAbsent(t *testing.T) {
	r := Parse("@a2:   ", []string{"a1", "a2"}, "a1")
	if r.Found() {
		t.Fatalf("expected no marker for empty delegation task, got %+v", r)
	}
}

func TestParseNeitherMarker(t *testing.T) {
	r := Parse("just some plain text", []string{"a1", "a2"}, "a1")
	if r.Found() {
		t.Fatalf("expected no marker, got %+v", r)
	}
}

func TestParseOnlyFirstDelegationHonored(t *testing.T) {
	r := Parse("@a2: first\n@a2: second", []string{"a1", "a2"}, "a1")
	if r.Delegation == nil || r.Delegation.Task != "first" {
		t.Fatalf("Delegation = %+v, want task %q", r.Delegation, "first")
	}
}

func TestParseUnknownAgentNameYieldsNoDelegation(t *testing.T) {
	r := Parse("@ghost: do something", []string{"a1", "a2"}, "a1")
	if r.Found() {
		t.Fatalf("expected no marker for unregistered agent, got %+v", r)
	}
}
