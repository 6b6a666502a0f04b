package agenttype

// EnvPrepass walks a raw values document (maps, slices, and scalars as
// decoded from YAML) and replaces only ${nr-env:NAME} tokens using secrets,
// before the document is type-checked and filled into the variable tree.
// Tokens in any other namespace are left untouched: this pre-pass exists so
// a user can embed a secret in a values string without that string being
// templated against arbitrary other namespaces later.
func EnvPrepass(raw interface{}, secrets map[string]string) interface{} {
	switch v := raw.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = EnvPrepass(val, secrets)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = EnvPrepass(val, secrets)
		}
		return out
	case string:
		return replaceEnvTokens(v, secrets)
	default:
		return v
	}
}

func replaceEnvTokens(s string, secrets map[string]string) string {
	return tokenRegexp.ReplaceAllStringFunc(s, func(tok string) string {
		m := tokenRegexp.FindStringSubmatch(tok)
		ns, name := m[1], m[2]
		if Namespace(ns) != NamespaceEnv {
			return tok
		}
		if val, ok := secrets[name]; ok {
			return val
		}
		return tok
	})
}
