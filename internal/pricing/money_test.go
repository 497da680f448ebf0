package pricing

import (
	"errors"
	"math"
	"testing"
)

func TestLineTotal(t *testing.T) {
	if got := LineTotal(3, 2_500); got != 7_500 {
		t.Fatalf("expected 7500, got %d", got)
	}
	if got := LineTotal(0, 2_500); got != 0 {
		t.Fatalf("expected 0 for empty line, got %d", got)
	}
}

func TestSavingsNeverNegative(t *testing.T) {
	if got := Savings(2, 10_000, 8_000); got != 4_000 {
		t.Fatalf("expected 4000 savings, got %d", got)
	}
	if got := Savings(2, 8_000, 10_000); got != 0 {
		t.Fatalf("expected savings clamped to 0, got %d", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]int{10, 15, 0}, 100, 80)
	if s.Gross != 2_500 || s.Net != 2_000 || s.Savings != 500 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestMulQtyReportsOverflow(t *testing.T) {
	if _, err := MulQty(math.MaxInt64/50, 100); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	got, err := MulQty(1_000_000, 10_000_000_000)
	if err != nil || got != 10_000_000_000_000_000 {
		t.Fatalf("expected exact product, got %d %v", got, err)
	}
}

func TestLineTotalSaturates(t *testing.T) {
	if got := LineTotal(math.MaxInt64/50, 100); got != math.MaxInt64 {
		t.Fatalf("expected saturation, got %d", got)
	}
	s := Summarize([]int{math.MaxInt64 / 50, math.MaxInt64 / 50}, 100, 80)
	if s.Gross != math.MaxInt64 || s.Net < 0 || s.Savings < 0 {
		t.Fatalf("summary wrapped around: %+v", s)
	}
}
