package analyzer

import "testing"

func TestParseEmotesTagMultipleIDs(t *testing.T) {
	spans := parseEmotesTag("25:0-4/1902:6-10,12-16")
	if len(spans) != 3 {
		t.Fatalf("len(spans) = %d, want 3", len(spans))
	}
	if spans[0].id != "25" || spans[0].start != 0 || spans[0].end != 4 {
		t.Errorf("spans[0] = %+v", spans[0])
	}
	if spans[1].id != "1902" || spans[2].id != "1902" {
		t.Errorf("expected both later spans tagged 1902, got %+v %+v", spans[1], spans[2])
	}
}

func TestParseEmotesTagEmpty(t *testing.T) {
	if spans := parseEmotesTag(""); spans != nil {
		t.Errorf("expected nil spans for empty tag, got %v", spans)
	}
}

func TestParseEmotesTagSkipsMalformedGroups(t *testing.T) {
	spans := parseEmotesTag("25:0-4/garbage/1902:6-10")
	if len(spans) != 2 {
		t.Fatalf("len(spans) = %d, want 2 (malformed group skipped)", len(spans))
	}
}

func TestSpanAtFindsContainingSpan(t *testing.T) {
	spans := []emoteSpan{{id: "25", start: 0, end: 4}, {id: "26", start: 6, end: 10}}
	if s, ok := spanAt(spans, 2); !ok || s.id != "25" {
		t.Errorf("spanAt(2) = %+v, %v", s, ok)
	}
	if s, ok := spanAt(spans, 10); !ok || s.id != "26" {
		t.Errorf("spanAt(10) = %+v, %v", s, ok)
	}
	if _, ok := spanAt(spans, 5); ok {
		t.Error("spanAt(5) should not match any span (gap between spans)")
	}
}
