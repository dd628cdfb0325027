package consumer

import "testing"

func TestNormalizeIntent_Idempotent(t *testing.T) {
	cases := []string{
		"Credit Card Block!!",
		"  multiple   spaces -- and--dashes  ",
		"",
		"ALLCAPS",
		"already_snake_case",
	}
	for _, in := range cases {
		once := normalizeIntent(in)
		twice := normalizeIntent(once)
		if once != twice {
			t.Errorf("normalizeIntent(%q) not idempotent: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestNormalizeIntent_Shape(t *testing.T) {
	got := normalizeIntent("Credit Card Block!!")
	want := "credit_card_block"
	if got != want {
		t.Errorf("normalizeIntent = %q, want %q", got, want)
	}
}

func TestNormalizeIntent_TruncatesTo50(t *testing.T) {
	long := ""
	for i := 0; i < 10; i++ {
		long += "word "
	}
	got := normalizeIntent(long)
	if len(got) > maxIntentLength {
		t.Errorf("normalizeIntent produced %d chars, want <= %d", len(got), maxIntentLength)
	}
}

func TestShouldClassifyIntent(t *testing.T) {
	if shouldClassifyIntent("um") {
		t.Error("filler-only text should not be classified")
	}
	if shouldClassifyIntent("short") {
		t.Error("text under the length threshold should not be classified")
	}
	if !shouldClassifyIntent("I need to block my credit card") {
		t.Error("substantive text should be classified")
	}
}

func TestClampConfidence(t *testing.T) {
	if clampConfidence(-0.5) != 0 {
		t.Error("negative confidence should clamp to 0")
	}
	if clampConfidence(1.5) != 1 {
		t.Error("confidence above 1 should clamp to 1")
	}
	if clampConfidence(0.42) != 0.42 {
		t.Error("in-range confidence should pass through unchanged")
	}
}
