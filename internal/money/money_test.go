package money

import (
	"errors"
	"math"
	"testing"
)

func TestAddSub(t *testing.T) {
	got, err := Amount(100).Add(50)
	if err != nil || got != 150 {
		t.Fatalf("Add: got %d, %v", got, err)
	}

	if _, err := Amount(math.MaxInt64).Add(1); !errors.Is(err, ErrOverflow) {
		t.Errorf("Add overflow: got %v, want ErrOverflow", err)
	}

	got, err = Amount(300).Sub(250)
	if err != nil || got != 50 {
		t.Fatalf("Sub: got %d, %v", got, err)
	}

	if _, err := Amount(10).Sub(11); !errors.Is(err, ErrNegative) {
		t.Errorf("Sub below zero: got %v, want ErrNegative", err)
	}
}

func TestSum(t *testing.T) {
	got, err := Sum(100, 100, 100)
	if err != nil || got != 300 {
		t.Fatalf("Sum: got %d, %v", got, err)
	}
	if _, err := Sum(math.MaxInt64, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("Sum overflow: got %v", err)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		pool Amount
		pct  int
		want Amount
	}{
		{100, 50, 50},
		{101, 50, 50},
		{999, 33, 329},
		{0, 100, 0},
		{12345, 0, 0},
		{12345, 100, 12345},
	}
	for _, tt := range tests {
		got, err := Percent(tt.pool, tt.pct)
		if err != nil {
			t.Fatalf("Percent(%d, %d): %v", tt.pool, tt.pct, err)
		}
		if got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.pool, tt.pct, got, tt.want)
		}
	}

	if _, err := Percent(100, 101); err == nil {
		t.Error("Percent(100, 101) should fail")
	}
	if _, err := Percent(100, -1); err == nil {
		t.Error("Percent(100, -1) should fail")
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a*num overflows int64 but the quotient fits.
	got, err := MulDiv(Amount(math.MaxInt64/2), 4, 8)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got != Amount(math.MaxInt64/4) {
		t.Errorf("MulDiv = %d, want %d", got, int64(math.MaxInt64/4))
	}

	if _, err := MulDiv(Amount(math.MaxInt64), 2, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("MulDiv overflow: got %v", err)
	}
	if _, err := MulDiv(10, 1, 0); err == nil {
		t.Error("MulDiv by zero should fail")
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"12.5", 12_500_000},
		{"0", 0},
		{"0.000001", 1},
		{"100", 100_000_000},
		{"1.500000", 1_500_000},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in, 6)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if _, err := Parse("0.0000001", 6); !errors.Is(err, ErrPrecision) {
		t.Errorf("Parse precision: got %v", err)
	}
	if _, err := Parse("-1", 6); !errors.Is(err, ErrNegative) {
		t.Errorf("Parse negative: got %v", err)
	}
	if _, err := Parse("abc", 6); err == nil {
		t.Error("Parse garbage should fail")
	}

	if got := Format(12_500_000, 6); got != "12.500000" {
		t.Errorf("Format = %q", got)
	}
	if got := Format(5, 2); got != "0.05" {
		t.Errorf("Format = %q", got)
	}
}
