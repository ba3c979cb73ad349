package pricing

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1.5K", 1500, false},
		{"2M", 2_000_000, false},
		{"12,345", 12345, false},
		{"garbage", 0, true},
		{"150K", 150_000, false},
		{"150k", 150_000, false},
		{"1.2M", 1_200_000, false},
		{"4.35K", 4350, false},
		{"0.29M", 290_000, false},
		{" 1 234 ", 1234, false},
		{"150 K", 150_000, false},
		{"1,250,000", 1_250_000, false},
		{"", 0, true},
		{"K", 0, true},
		{"-500", 0, true},
		{"12.5", 0, true},
		{"1.5KM", 0, true},
		{"1e3", 0, true},
		{"0", 0, false},
		{"9223372036854775807", 9223372036854775807, false},
		{"18446744073709551617", 0, true},
		{"99999999999999999999", 0, true},
		{"10000000000000M", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
			if err != nil {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Errorf("Parse(%q) error type = %T, want *ParseError", tt.input, err)
				}
			}
		})
	}
}

func TestParseAll(t *testing.T) {
	prices, errs := ParseAll([]string{"160K", "n/a", "100,000", "0", "1.05M"})

	want := []int64{100_000, 160_000, 1_050_000}
	if len(prices) != len(want) {
		t.Fatalf("got %v, want %v", prices, want)
	}
	for i := range want {
		if prices[i] != want[i] {
			t.Errorf("prices[%d] = %d, want %d", i, prices[i], want[i])
		}
	}
	if len(errs) != 1 {
		t.Errorf("got %d parse errors, want 1", len(errs))
	}
}

func TestParseAll_Empty(t *testing.T) {
	prices, errs := ParseAll(nil)
	if len(prices) != 0 || len(errs) != 0 {
		t.Errorf("ParseAll(nil) = %v, %v; want empty", prices, errs)
	}
}

func TestParseAll_DropsOutOfRange(t *testing.T) {
	prices, errs := ParseAll([]string{"18446744073709551617", "150K", "10000000000000M"})
	if len(prices) != 1 || prices[0] != 150_000 {
		t.Errorf("prices = %v, want [150000]", prices)
	}
	if len(errs) != 2 {
		t.Errorf("got %d parse errors, want 2", len(errs))
	}
}

func TestFormatCoins(t *testing.T) {
	tests := map[int64]string{
		0:         "0",
		999:       "999",
		1000:      "1,000",
		52_000:    "52,000",
		1_050_000: "1,050,000",
		-4050:     "-4,050",
	}
	for in, want := range tests {
		if got := FormatCoins(in); got != want {
			t.Errorf("FormatCoins(%d) = %q, want %q", in, got, want)
		}
	}
}
