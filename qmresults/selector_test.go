package qmresults

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalize(t *testing.T) {
	h := NamedResultHeader{CountSoFar: 5}
	cases := []struct {
		name string
		sel  Selector
		want FetchRange
	}{
		{"all", All(), FetchRange{0, 5}},
		{"from", From(2), FetchRange{2, 5}},
		{"index", Index(5), FetchRange{5, 6}},
		{"range", Range(1, 3), FetchRange{1, 3}},
		{"range beyond count", Range(3, 9), FetchRange{3, 9}},
		{"start beyond count", From(7), FetchRange{7, 7}},
		{"unit step", SliceStep(0, 4, 1), FetchRange{0, 4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize("counts", tc.sel, h)
			if err != nil {
				t.Fatalf("Normalize(%s): %v", tc.sel, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("range mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeRejects(t *testing.T) {
	h := NamedResultHeader{CountSoFar: 5}
	cases := map[string]Selector{
		"step 2":         SliceStep(0, 5, 2),
		"negative index": Index(-1),
		"negative start": From(-2),
		"stop < start":   Range(3, 1),
		"nil":            nil,
	}
	for name, sel := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize("counts", sel, h)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected InvalidRangeError, got %v", err)
			}
		})
	}
}

func TestSliceString(t *testing.T) {
	cases := map[string]Selector{
		":":     All(),
		"2:":    From(2),
		"1:4":   Range(1, 4),
		"0:5:2": SliceStep(0, 5, 2),
		"3":     Index(3),
	}
	for want, sel := range cases {
		if got := sel.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
