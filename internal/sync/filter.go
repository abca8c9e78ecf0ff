package sync

import (
	"fmt"
	"path"
	"strings"
)

// Filter is a repository allow-list. Patterns match either the full name
// (owner/name) or the bare name, exactly or as a path.Match glob.
// Exclusion wins over inclusion; an empty Include admits everything.
type Filter struct {
	Include []string
	Exclude []string
}

// Allowed reports whether a repository passes the filter
func (f Filter) Allowed(fullName string) bool {
	if matchAny(f.Exclude, fullName) {
		return false
	}
	return len(f.Include) == 0 || matchAny(f.Include, fullName)
}

func matchAny(patterns []string, fullName string) bool {
	name := fullName
	if i := strings.LastIndex(fullName, "/"); i >= 0 {
		name = fullName[i+1:]
	}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		for _, candidate := range []string{strings.ToLower(fullName), strings.ToLower(name)} {
			if p == candidate {
				return true
			}
			if ok, err := path.Match(p, candidate); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}
