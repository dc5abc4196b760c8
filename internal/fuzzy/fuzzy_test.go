package fuzzy

import "testing"

func TestMatchExact(t *testing.T) {
	if got := Match("The Matrix", "the matrix"); got != 1.0 {
		t.Fatalf("expected 1.0 for case-insensitive exact match, got %v", got)
	}
}

func TestMatchPunctuationAndAccents(t *testing.T) {
	if got := Match("Amélie", "amelie"); got != 1.0 {
		t.Fatalf("expected accent-folded exact match, got %v", got)
	}
	if got := Match("Spider-Man: No Way Home", "spider man no way home"); got != 1.0 {
		t.Fatalf("expected punctuation-insensitive match, got %v", got)
	}
}

func TestMatchSubstring(t *testing.T) {
	if got := Match("Coco", "Coco Chanel"); got != 0.85 {
		t.Fatalf("expected substring containment score 0.85, got %v", got)
	}
}

func TestMatchSymmetry(t *testing.T) {
	pairs := [][2]string{
		{"Coco", "Coco Chanel (2008) trailer"},
		{"The Avengers", "Avengers: Endgame"},
		{"Up", "Cars"},
		{"", "something"},
	}
	for _, p := range pairs {
		ab := Match(p[0], p[1])
		ba := Match(p[1], p[0])
		if ab != ba {
			t.Fatalf("Match(%q,%q)=%v != Match(%q,%q)=%v", p[0], p[1], ab, p[1], p[0], ba)
		}
	}
}

func TestMatchLongStringsFallBack(t *testing.T) {
	long := "this is a very long title that exceeds the fifty character budget for sure"
	if got := Match(long, "short"); got != 0.5 {
		t.Fatalf("expected 0.5 fallback for long strings, got %v", got)
	}
}

func TestMatchFuzzyRange(t *testing.T) {
	got := Match("Terminator 2", "Terminator II")
	if got <= 0.5 || got >= 1.0 {
		t.Fatalf("expected a high but non-exact fuzzy score, got %v", got)
	}
}
