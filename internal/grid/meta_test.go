package grid

import (
	"reflect"
	"testing"
)

func TestParseMergesLenient(t *testing.T) {
	if got := parseMerges(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := parseMerges("{broken"); got != nil {
		t.Fatalf("expected nil for malformed input, got %v", got)
	}
	got := parseMerges(`[{"start_row":1,"start_col":0,"end_row":2,"end_col":3}]`)
	want := []MergeRange{{StartRow: 1, StartCol: 0, EndRow: 2, EndCol: 3}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIndexMapRoundTrip(t *testing.T) {
	heights := map[int]float64{2: 18.5, 40: 60}
	if got := parseIndexFloatMap(encodeIndexFloatMap(heights)); !reflect.DeepEqual(got, heights) {
		t.Fatalf("got %v, want %v", got, heights)
	}
	if got := encodeIndexFloatMap(nil); got != "" {
		t.Fatalf("expected empty encoding, got %q", got)
	}

	// Non-numeric keys are skipped, not fatal.
	got := parseIndexIntMap(`{"3":80,"oops":10}`)
	if !reflect.DeepEqual(got, map[int]int{3: 80}) {
		t.Fatalf("got %v", got)
	}
	if got := parseIndexIntMap(`not json`); got != nil {
		t.Fatalf("expected nil for malformed input, got %v", got)
	}
}

func TestParseFreezeLenient(t *testing.T) {
	if got := parseFreeze(`{"rows":2,"cols":1}`); got != (FreezePane{Rows: 2, Cols: 1}) {
		t.Fatalf("got %+v", got)
	}
	if got := parseFreeze(`[broken`); got != (FreezePane{}) {
		t.Fatalf("expected zero freeze for malformed input, got %+v", got)
	}
}

func TestMergeRangePredicates(t *testing.T) {
	if !(MergeRange{StartRow: 2, StartCol: 2, EndRow: 2, EndCol: 2}).IsDegenerate() {
		t.Fatalf("single cell should be degenerate")
	}
	if !(MergeRange{StartRow: 3, StartCol: 0, EndRow: 1, EndCol: 4}).IsDegenerate() {
		t.Fatalf("inverted bounds should be degenerate")
	}
	if (MergeRange{StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 3}).IsDegenerate() {
		t.Fatalf("single-row span is a real range")
	}
	if (MergeRange{StartRow: 0, StartCol: 0, EndRow: 0, EndCol: 3}).SpansMultipleRows() {
		t.Fatalf("single-row range must not span rows")
	}
	if !(MergeRange{StartRow: 0, StartCol: 0, EndRow: 1, EndCol: 0}).SpansMultipleRows() {
		t.Fatalf("two-row range spans rows")
	}
}

func TestStyleLocked(t *testing.T) {
	if styleLocked(nil) {
		t.Fatalf("nil style must be unlocked")
	}
	if styleLocked(str(`{"bold":true}`)) {
		t.Fatalf("style without locked field must be unlocked")
	}
	if !styleLocked(str(`{"locked":true,"bold":false}`)) {
		t.Fatalf("locked style not detected")
	}
	if styleLocked(str(`{{{`)) {
		t.Fatalf("unparseable style must be unlocked")
	}
}

func TestIndexHelpers(t *testing.T) {
	if got := dedupeSorted([]int{5, 2, 5, -1, 2}); !reflect.DeepEqual(got, []int{2, 5}) {
		t.Fatalf("dedupeSorted got %v", got)
	}

	deleted := []int{2, 5}
	if got := countBelow(deleted, 7); got != 2 {
		t.Fatalf("countBelow got %d", got)
	}
	if got := countBelow(deleted, 2); got != 0 {
		t.Fatalf("countBelow at boundary got %d", got)
	}
	if got := countAtOrBelow(deleted, 5); got != 2 {
		t.Fatalf("countAtOrBelow got %d", got)
	}
	if !containsSorted(deleted, 5) || containsSorted(deleted, 3) {
		t.Fatalf("containsSorted misbehaved")
	}

	shifted := shiftKeys(map[int]int{1: 10, 5: 50}, 5, 2)
	if !reflect.DeepEqual(shifted, map[int]int{1: 10, 7: 50}) {
		t.Fatalf("shiftKeys got %v", shifted)
	}
	kept := deleteKeys(map[int]int{2: 20, 4: 40}, []int{2})
	if !reflect.DeepEqual(kept, map[int]int{3: 40}) {
		t.Fatalf("deleteKeys got %v", kept)
	}
	if got := deleteFromList([]int{2, 6}, []int{2, 3}); !reflect.DeepEqual(got, []int{4}) {
		t.Fatalf("deleteFromList got %v", got)
	}
	if got := shiftList([]int{1, 6}, 5, 3); !reflect.DeepEqual(got, []int{1, 9}) {
		t.Fatalf("shiftList got %v", got)
	}
}
