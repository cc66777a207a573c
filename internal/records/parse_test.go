package records

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"empty", "", time.Time{}, false},
		{"iso", "2025-10-03", time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), false},
		{"us slash", "10/3/2025", time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), false},
		{"serial", "45933", time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), false},
		{"month name", "3 Oct 2025", time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), false},
		{"garbage", "next tuesday", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"empty", "", "0", false},
		{"dash placeholder", "-", "0", false},
		{"plain", "100", "100", false},
		{"decimal", "1234.56", "1234.56", false},
		{"thousands", "1,234.56", "1234.56", false},
		{"negative", "-250.10", "-250.1", false},
		{"parentheses", "(1,000.00)", "-1000", false},
		{"currency symbol", "$99.95", "99.95", false},
		{"garbage", "12..5", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got.String(), tt.want)
			}
		})
	}
}

func TestParseSeq(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"7", 7, false},
		{"12.0", 12, false},
		{"12.5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSeq(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSeq(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseSeq(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input   string
		want    Period
		wantErr bool
	}{
		{"October 2025", Period{2025, time.October}, false},
		{"Oct 2025", Period{2025, time.October}, false},
		{"2025-10", Period{2025, time.October}, false},
		{"10/2025", Period{2025, time.October}, false},
		{"", Period{}, true},
		{"sometime", Period{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePeriod(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePeriod(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPeriodContains(t *testing.T) {
	p := Period{2025, time.October}

	if !p.Contains(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("first of month should be inside the period")
	}
	if !p.Contains(time.Date(2025, 10, 31, 23, 0, 0, 0, time.UTC)) {
		t.Error("last of month should be inside the period")
	}
	if p.Contains(time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("next month should be outside the period")
	}
	if p.Contains(time.Time{}) {
		t.Error("zero time should never be inside a period")
	}
}
