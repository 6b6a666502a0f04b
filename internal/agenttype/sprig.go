package agenttype

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// stringHelperFuncs is sprig's function set with the functions that would
// let an agent-type template read process environment or recursively
// include other templates removed — the same trim the teacher applies in
// internal/cmd/controller/target/target.go's tplFuncMap, and for the same
// reason: those operations belong to C2's own namespaced ${nr-env:...} pass,
// not to free-form template authoring.
func stringHelperFuncs() template.FuncMap {
	f := sprig.TxtFuncMap()
	delete(f, "env")
	delete(f, "expandenv")
	delete(f, "include")
	delete(f, "tpl")
	return f
}

// expandStringHelpers runs a template-string literal through a {{ }}-delimited
// text/template pass offering sprig's string/encoding helpers (trim, upper,
// b64enc, ...) before the ${ns:name} substitution pass runs. It is pure sugar
// for agent-type authors who want to transform a literal alongside the
// namespaced token syntax (e.g. "${nr-var:name} | {{ \"{{nr-var:name}}\" }}"
// is never valid — helpers act only on literal text, never on tokens, since
// this pass runs strictly before any variable is substituted in).
//
// Strings with no "{{" are returned unchanged without invoking the template
// engine at all, so the overwhelming majority of agent-type templates never
// pay for this pass.
func expandStringHelpers(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("agent-type-string").Funcs(stringHelperFuncs()).Parse(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}
