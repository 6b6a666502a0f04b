package validators

import (
	"fmt"
	"regexp"
	"strings"
)

// repositoryRegexp mirrors original_source's REGEX_OTEL_REPOSITORY
// (`\s*repository\s*:\s*(.+)`): deliberately content-blind, so a
// `repository:` occurrence inside a YAML comment or trailing an inline
// comment is matched the same way the original is (see original_source's
// "valid repository and ignore comment" test case, which expects exactly
// that to be rejected).
var repositoryRegexp = regexp.MustCompile(`\s*repository\s*:\s*(.+)`)

// RepositoryAllowList is the nrdot-specific validator supplemented from
// original_source's regexes.rs: it extracts every repository: occurrence
// in the body and rejects any value not on the allow list. It runs as an
// ordinary Validator in the same chain as the regex denylists.
type RepositoryAllowList struct {
	Allowed map[string]bool
}

func NewRepositoryAllowList(allowed ...string) *RepositoryAllowList {
	m := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		m[a] = true
	}
	return &RepositoryAllowList{Allowed: m}
}

func (r *RepositoryAllowList) Validate(body []byte) error {
	for _, match := range repositoryRegexp.FindAllSubmatch(body, -1) {
		value := strings.TrimRight(string(match[1]), " \t\r")
		if !r.Allowed[value] {
			return &InvalidConfig{Reason: fmt.Sprintf("repository %q is not on the allow list", value)}
		}
	}
	return nil
}
