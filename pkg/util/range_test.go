package util

import (
	"reflect"
	"testing"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{
			name: "single value",
			spec: "5",
			want: []int{5},
		},
		{
			name: "simple range",
			spec: "1-5",
			want: []int{1, 2, 3, 4, 5},
		},
		{
			name: "comma separated",
			spec: "1,3,5",
			want: []int{1, 3, 5},
		},
		{
			name: "mixed",
			spec: "1-3,5,7-9",
			want: []int{1, 2, 3, 5, 7, 8, 9},
		},
		{
			name: "with spaces",
			spec: "1 - 3, 5",
			want: []int{1, 2, 3, 5},
		},
		{
			name: "duplicates removed",
			spec: "1-3,2-4",
			want: []int{1, 2, 3, 4},
		},
		{
			name: "empty string",
			spec: "",
			want: nil,
		},
		{
			name:    "invalid - start > end",
			spec:    "5-1",
			wantErr: true,
		},
		{
			name:    "invalid - not a number",
			spec:    "abc",
			wantErr: true,
		},
		{
			name:    "invalid - bad range format",
			spec:    "1-2-3",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandRange(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ExpandRange(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
				return
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandRange(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestCompactRange(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   string
	}{
		{
			name:   "consecutive",
			values: []int{1, 2, 3, 4, 5},
			want:   "1-5",
		},
		{
			name:   "non-consecutive",
			values: []int{1, 3, 5},
			want:   "1,3,5",
		},
		{
			name:   "mixed",
			values: []int{1, 2, 3, 5, 7, 8, 9},
			want:   "1-3,5,7-9",
		},
		{
			name:   "single value",
			values: []int{5},
			want:   "5",
		},
		{
			name:   "empty",
			values: []int{},
			want:   "",
		},
		{
			name:   "unsorted with duplicates",
			values: []int{5, 3, 1, 2, 3, 4},
			want:   "1-5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompactRange(tt.values)
			if got != tt.want {
				t.Errorf("CompactRange(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	// Test that ExpandRange and CompactRange are inverses
	original := "1-3,5,7-10,15"
	expanded, err := ExpandRange(original)
	if err != nil {
		t.Fatalf("ExpandRange failed: %v", err)
	}
	compacted := CompactRange(expanded)
	if compacted != original {
		t.Errorf("Round trip failed: %q -> %v -> %q", original, expanded, compacted)
	}
}

func TestExpandRange_EmptyParts(t *testing.T) {
	// Test with empty parts after comma
	got, err := ExpandRange("1, , 3")
	if err != nil {
		t.Errorf("ExpandRange() unexpected error: %v", err)
	}
	want := []int{1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandRange(\"1, , 3\") = %v, want %v", got, want)
	}
}

func TestExpandRange_InvalidEndValue(t *testing.T) {
	// Test with invalid end value in range
	_, err := ExpandRange("1-abc")
	if err == nil {
		t.Error("Expected error for invalid end value")
	}
}

func TestExpandRange_DuplicatesWithSort(t *testing.T) {
	// Specifically test dedup path in dedupInts
	// This should trigger the dedup loop
	got, err := ExpandRange("1,1,1,2,2,3")
	if err != nil {
		t.Errorf("ExpandRange() unexpected error: %v", err)
	}
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExpandRange(\"1,1,1,2,2,3\") = %v, want %v", got, want)
	}
}

func TestExpandLinkRange(t *testing.T) {
	tests := []struct {
		name     string
		spec     string
		maxLinks int
		want     []int
		wantErr  bool
	}{
		{name: "within bound", spec: "0-3,6", maxLinks: 8, want: []int{0, 1, 2, 3, 6}},
		{name: "unbounded", spec: "30-31", maxLinks: 0, want: []int{30, 31}},
		{name: "last valid link", spec: "17", maxLinks: 18, want: []int{17}},
		{name: "beyond max links", spec: "0-18", maxLinks: 18, wantErr: true},
		{name: "bad syntax", spec: "a-b", maxLinks: 18, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandLinkRange(tt.spec, tt.maxLinks)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandLinkRange(%q, %d) error = %v, wantErr %v", tt.spec, tt.maxLinks, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandLinkRange(%q, %d) = %v, want %v", tt.spec, tt.maxLinks, got, tt.want)
			}
		})
	}
}
