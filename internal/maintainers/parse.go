package maintainers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Owner is a maintainer named by a file. ID is set when the file embeds a
// numeric GitHub id; otherwise Login must be resolved.
type Owner struct {
	Login string
	ID    int64
}

// noreplyEmail matches GitHub noreply addresses, optionally prefixed with
// the account id: 12345+login@users.noreply.github.com
var noreplyEmail = regexp.MustCompile(`(?i)^(?:(\d+)\+)?([a-z0-9][a-z0-9-]*)@users\.noreply\.github\.com$`)

// loginPattern is the shape of a GitHub login
var loginPattern = regexp.MustCompile(`(?i)^[a-z0-9](?:[a-z0-9-]{0,38})$`)

// ParseCodeowners extracts user owners from a CODEOWNERS file: @login
// tokens and noreply email addresses. Team handles (@org/team) and other
// emails are ignored. Owners are returned once each, in file order.
func ParseCodeowners(data []byte) []Owner {
	var owners []Owner
	seen := make(map[string]bool)
	add := func(o Owner) {
		key := strings.ToLower(o.Login)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		owners = append(owners, o)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// The first field is the path pattern
		for _, tok := range fields[1:] {
			if o, ok := ownerFromHandle(tok); ok {
				add(o)
				continue
			}
			if o, ok := ownerFromEmail(tok); ok {
				add(o)
			}
		}
	}
	return owners
}

func ownerFromHandle(tok string) (Owner, bool) {
	if !strings.HasPrefix(tok, "@") || strings.Contains(tok, "/") {
		return Owner{}, false
	}
	login := strings.TrimPrefix(tok, "@")
	if !loginPattern.MatchString(login) {
		return Owner{}, false
	}
	return Owner{Login: login}, true
}

func ownerFromEmail(s string) (Owner, bool) {
	m := noreplyEmail.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Owner{}, false
	}
	o := Owner{Login: m[2]}
	if m[1] != "" {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			o.ID = id
		}
	}
	return o, true
}

// personString matches npm's "Name <email> (url)" person shorthand
var personString = regexp.MustCompile(`^\s*([^<(]*?)\s*(?:<([^>]*)>)?\s*(?:\(([^)]*)\))?\s*$`)

type packagePerson struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	URL      string          `json:"url"`
	GitHub   string          `json:"github"`
	ID       json.RawMessage `json:"id"`
	GitHubID json.RawMessage `json:"github_id"`
}

// ParsePackageMaintainers reads the maintainers array of a package.json.
// Entries may be person strings or objects. A numeric id field wins; the
// login comes from a github field, a github.com url, a noreply email or a
// name that looks like a login, in that order.
func ParsePackageMaintainers(data []byte) ([]Owner, error) {
	var pkg struct {
		Maintainers []json.RawMessage `json:"maintainers"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package metadata: %w", err)
	}

	var owners []Owner
	for _, raw := range pkg.Maintainers {
		var person packagePerson
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			m := personString.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			person = packagePerson{Name: m[1], Email: m[2], URL: m[3]}
		} else if err := json.Unmarshal(raw, &person); err != nil {
			continue
		}

		if o, ok := person.owner(); ok {
			owners = append(owners, o)
		}
	}
	return owners, nil
}

func (p packagePerson) owner() (Owner, bool) {
	var o Owner
	o.ID = numericID(p.ID)
	if o.ID == 0 {
		o.ID = numericID(p.GitHubID)
	}

	switch {
	case loginPattern.MatchString(strings.TrimPrefix(p.GitHub, "@")):
		o.Login = strings.TrimPrefix(p.GitHub, "@")
	case githubProfileLogin(p.URL) != "":
		o.Login = githubProfileLogin(p.URL)
	default:
		if e, ok := ownerFromEmail(p.Email); ok {
			o.Login = e.Login
			if o.ID == 0 {
				o.ID = e.ID
			}
		} else if loginPattern.MatchString(strings.TrimSpace(p.Name)) {
			o.Login = strings.TrimSpace(p.Name)
		}
	}
	return o, o.ID != 0 || o.Login != ""
}

// numericID accepts a JSON number or a string of digits
func numericID(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

func githubProfileLogin(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 1 || !loginPattern.MatchString(parts[0]) {
		return ""
	}
	return parts[0]
}
