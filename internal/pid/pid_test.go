package pid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestBuildShortID(t *testing.T) {
	tests := []struct {
		name         string
		issn         string
		yearAndOrder string
		orderInIssue string
		want         string
	}{
		{
			name:         "single digit order in year",
			issn:         "3456-0987",
			yearAndOrder: "20095",
			orderInIssue: "54321",
			want:         "S3456-09872009000554321",
		},
		{
			name:         "two digit order in year",
			issn:         "3456-0987",
			yearAndOrder: "200913",
			orderInIssue: "12345",
			want:         "S3456-09872009001312345",
		},
		{
			name:         "full width order in year",
			issn:         "9876-3456",
			yearAndOrder: "20171234",
			orderInIssue: "00001",
			want:         "S9876-34562017123400001",
		},
		{
			name:         "year only",
			issn:         "9876-3456",
			yearAndOrder: "2017",
			orderInIssue: "12345",
			want:         "S9876-34562017000012345",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildShortID(tt.issn, tt.yearAndOrder, tt.orderInIssue)
			if got != tt.want {
				t.Errorf("BuildShortID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildShortID_Deterministic(t *testing.T) {
	first := BuildShortID("3456-0987", "20095", "54321")
	for i := 0; i < 5; i++ {
		if got := BuildShortID("3456-0987", "20095", "54321"); got != first {
			t.Fatalf("BuildShortID() = %q on call %d, want %q", got, i, first)
		}
	}
}

func TestEncodeUUID(t *testing.T) {
	tests := []struct {
		name string
		u    uuid.UUID
		want string
	}{
		{"nil uuid pads with first digit", uuid.Nil, strings.Repeat("b", LongIDLen)},
		{"one", uuid.UUID{15: 1}, strings.Repeat("b", LongIDLen-1) + "c"},
		{"base", uuid.UUID{15: 48}, strings.Repeat("b", LongIDLen-2) + "cb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeUUID(tt.u); got != tt.want {
				t.Errorf("EncodeUUID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeUUID_MaxFitsWidth(t *testing.T) {
	var max uuid.UUID
	for i := range max {
		max[i] = 0xff
	}
	got := EncodeUUID(max)
	if len(got) != LongIDLen {
		t.Errorf("len(EncodeUUID(max)) = %d, want %d", len(got), LongIDLen)
	}
}

func TestUUIDGenerator(t *testing.T) {
	var gen Generator = UUIDGenerator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if len(id) != LongIDLen {
			t.Fatalf("Generate() = %q, want %d characters", id, LongIDLen)
		}
		for _, c := range id {
			if !strings.ContainsRune(LongIDAlphabet, c) {
				t.Fatalf("Generate() = %q contains %q outside alphabet", id, c)
			}
		}
		if seen[id] {
			t.Fatalf("Generate() returned duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestValidateShortID(t *testing.T) {
	if err := ValidateShortID("S3456-09872009000554321"); err != nil {
		t.Errorf("ValidateShortID() error = %v", err)
	}
	if err := ValidateShortID(""); err == nil {
		t.Error("ValidateShortID(\"\") expected error")
	}
	if err := ValidateShortID(strings.Repeat("x", MaxShortIDLen+1)); err == nil {
		t.Error("ValidateShortID(too long) expected error")
	}
}

func TestValidateLongID(t *testing.T) {
	if err := ValidateLongID("brzWFrVFdpYMXdpvq7dDJBQ"); err != nil {
		t.Errorf("ValidateLongID() error = %v", err)
	}
	if err := ValidateLongID(""); err == nil {
		t.Error("ValidateLongID(\"\") expected error")
	}
	if err := ValidateLongID(strings.Repeat("x", MaxLongIDLen+1)); err == nil {
		t.Error("ValidateLongID(too long) expected error")
	}
}
