package models

import "testing"

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Status
	}{
		{
			name:     "canonical upper case",
			raw:      "NEW",
			expected: StatusNew,
		},
		{
			name:     "lower case",
			raw:      "in_progress",
			expected: StatusInProgress,
		},
		{
			name:     "mixed case with whitespace",
			raw:      "  Done ",
			expected: StatusDone,
		},
		{
			name:     "legacy nouveau",
			raw:      "NOUVEAU",
			expected: StatusNew,
		},
		{
			name:     "legacy en_cours lower case",
			raw:      "en_cours",
			expected: StatusInProgress,
		},
		{
			name:     "legacy termine",
			raw:      "TERMINE",
			expected: StatusDone,
		},
		{
			name:     "legacy planifie",
			raw:      "PLANIFIE",
			expected: StatusPlanned,
		},
		{
			name:     "unknown value preserved upper-cased",
			raw:      "rejected",
			expected: Status("REJECTED"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeStatus(tt.raw); got != tt.expected {
				t.Errorf("NormalizeStatus(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestStatusProgress(t *testing.T) {
	tests := []struct {
		name     string
		status   Status
		expected int
		known    bool
	}{
		{name: "new is zero", status: StatusNew, expected: 0, known: true},
		{name: "in progress is half", status: StatusInProgress, expected: 50, known: true},
		{name: "done is full", status: StatusDone, expected: 100, known: true},
		{name: "planned has no fixed progress", status: StatusPlanned, expected: 0, known: false},
		{name: "unknown status is sentinel", status: Status("GARBAGE"), expected: 0, known: false},
		{name: "empty status is sentinel", status: Status(""), expected: 0, known: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, known := tt.status.Progress()
			if known != tt.known {
				t.Fatalf("Progress() known = %v, want %v", known, tt.known)
			}
			if got != tt.expected {
				t.Errorf("Progress() = %d, want %d", got, tt.expected)
			}
		})
	}
}
