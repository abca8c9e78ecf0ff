package sync

import "testing"

func TestFilterAllowed(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		repo     string
		expected bool
	}{
		{"empty filter admits all", Filter{}, "acme/widget", true},
		{"exact full name include", Filter{Include: []string{"acme/widget"}}, "acme/widget", true},
		{"exact bare name include", Filter{Include: []string{"widget"}}, "acme/widget", true},
		{"not included", Filter{Include: []string{"acme/other"}}, "acme/widget", false},
		{"glob include", Filter{Include: []string{"acme/wid*"}}, "acme/widget", true},
		{"case insensitive", Filter{Include: []string{"ACME/Widget"}}, "acme/widget", true},
		{"exclude wins", Filter{Include: []string{"*"}, Exclude: []string{"widget"}}, "acme/widget", false},
		{"glob exclude", Filter{Exclude: []string{"acme/test-*"}}, "acme/test-fixtures", false},
		{"exclude does not match", Filter{Exclude: []string{"acme/test-*"}}, "acme/widget", true},
		{"bad pattern ignored", Filter{Include: []string{"[", "widget"}}, "acme/widget", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Allowed(tt.repo); got != tt.expected {
				t.Errorf("Allowed(%q) = %v, want %v", tt.repo, got, tt.expected)
			}
		})
	}
}

func TestParseRepositoryString(t *testing.T) {
	tests := []struct {
		input     string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{"acme/widget", "acme", "widget", false},
		{"acme", "", "", true},
		{"acme/widget/extra", "", "", true},
		{"/widget", "", "", true},
	}

	for _, tt := range tests {
		owner, name, err := ParseRepositoryString(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRepositoryString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if owner != tt.wantOwner || name != tt.wantName {
			t.Errorf("ParseRepositoryString(%q) = %q, %q, want %q, %q", tt.input, owner, name, tt.wantOwner, tt.wantName)
		}
	}
}
