package engine

import "testing"

func TestRepairPrompt(t *testing.T) {
	history := []Attempt{
		{Sequence: 1, Outcome: Failed("SyntaxError")},
		{Sequence: 2, Outcome: Failed("NameError: x")},
	}
	want := "Task: print primes\n\nAttempt 1 failed with error: SyntaxError\nAttempt 2 failed with error: NameError: x\n\nPlease fix the code."
	if got := RepairPrompt("print primes", history); got != want {
		t.Fatalf("RepairPrompt =\n%q\nwant\n%q", got, want)
	}

	first := "Task: print primes\n\n\nPlease fix the code."
	if got := RepairPrompt("print primes", nil); got != first {
		t.Fatalf("first attempt prompt = %q, want %q", got, first)
	}
}

func TestImprovementRequest(t *testing.T) {
	want := "Previous answer: Paris\n\nUser feedback: add the population\n\nPlease improve the answer based on this feedback."
	if got := ImprovementRequest("Paris", "add the population"); got != want {
		t.Fatalf("ImprovementRequest = %q", got)
	}
	blank := ImprovementRequest("Paris", "  ")
	wantBlank := "Previous answer: Paris\n\nUser feedback: " + DefaultRegenerateFeedback + "\n\nPlease improve the answer based on this feedback."
	if blank != wantBlank {
		t.Fatalf("blank feedback = %q", blank)
	}
}

func TestRejected_DefaultFeedback(t *testing.T) {
	o := Rejected("")
	if o.Kind != OutcomeFailure || o.Source != SourceRejection || o.Detail != DefaultRegenerateFeedback {
		t.Fatalf("Rejected(\"\") = %+v", o)
	}
	if o := Rejected("more detail"); o.Detail != "more detail" {
		t.Fatalf("Rejected kept wrong feedback: %+v", o)
	}
}

func TestLastRejection(t *testing.T) {
	if _, ok := LastRejection(nil); ok {
		t.Fatal("empty history has no rejection")
	}
	h := []Attempt{{Sequence: 1, Artifact: "a", Outcome: Failed("x")}}
	if _, ok := LastRejection(h); ok {
		t.Fatal("verification failure is not a rejection")
	}
	h = append(h, Attempt{Sequence: 2, Artifact: "b", Outcome: Rejected("shorter")})
	a, ok := LastRejection(h)
	if !ok || a.Artifact != "b" || a.Outcome.Detail != "shorter" {
		t.Fatalf("LastRejection = %+v ok=%v", a, ok)
	}
}
