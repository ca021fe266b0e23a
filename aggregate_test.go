package jtable

import (
	"errors"
	"fmt"
	"testing"
)

func TestAggregate(t *testing.T) {
	t.Parallel()

	tbl := openTestTable(t, t.TempDir())

	mustSave(t, tbl, "a", map[string]any{"age": 30})
	mustSave(t, tbl, "b", map[string]any{"age": 40.0})
	mustSave(t, tbl, "c", map[string]any{"age": "not a number"})
	mustSave(t, tbl, "d", map[string]any{"name": "no age at all"})

	tests := []struct {
		op   string
		want float64
	}{
		{AggSum, 70},
		{AggAvg, 35},
		{AggMin, 30},
		{AggMax, 40},
		{AggCount, 2},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			got, err := tbl.Aggregate("age", tt.op)
			if err != nil {
				t.Fatalf("Aggregate(age, %s) failed: %v", tt.op, err)
			}

			if got != tt.want {
				t.Fatalf("Aggregate(age, %s) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}

func TestAggregateZeroNumericValues(t *testing.T) {
	t.Parallel()

	tbl := openTestTable(t, t.TempDir())

	mustSave(t, tbl, "a", map[string]any{"age": "unknown"})

	for _, op := range []string{AggSum, AggAvg, AggCount} {
		got, err := tbl.Aggregate("age", op)
		if err != nil {
			t.Fatalf("Aggregate(age, %s) failed: %v", op, err)
		}

		if got != 0 {
			t.Fatalf("Aggregate(age, %s) over zero numerics = %v, want 0", op, got)
		}
	}

	for _, op := range []string{AggMin, AggMax} {
		_, err := tbl.Aggregate("age", op)
		if !errors.Is(err, ErrNoNumericValues) {
			t.Fatalf("Aggregate(age, %s) = %v, want ErrNoNumericValues", op, err)
		}
	}
}

func TestAggregateUnknownOp(t *testing.T) {
	t.Parallel()

	tbl := openTestTable(t, t.TempDir())

	_, err := tbl.Aggregate("age", "median")
	if !errors.Is(err, ErrUnknownAggregate) {
		t.Fatalf("Aggregate(age, median) = %v, want ErrUnknownAggregate", err)
	}
}

func TestAggregateNegativeValues(t *testing.T) {
	t.Parallel()

	tbl := openTestTable(t, t.TempDir())

	for i, n := range []float64{-5, -2, -9} {
		mustSave(t, tbl, fmt.Sprintf("id-%d", i), map[string]any{"delta": n})
	}

	// Min/max must not assume values start at zero.
	got, err := tbl.Aggregate("delta", AggMax)
	if err != nil || got != -2 {
		t.Fatalf("Aggregate(delta, max) = %v, %v; want -2", got, err)
	}

	got, err = tbl.Aggregate("delta", AggMin)
	if err != nil || got != -9 {
		t.Fatalf("Aggregate(delta, min) = %v, %v; want -9", got, err)
	}
}
