package config

import (
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR_NAME}} references in raw config bytes with
// values from the process environment. Go template syntax is used instead
// of $-style expansion so literal dollar signs in completion markers,
// passwords, and shell snippets survive untouched.
//
// Missing variables expand to the empty string; startup validation decides
// whether an empty field is acceptable. Content that does not parse as a
// template is returned as-is, so plain YAML never fails here.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("env").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, environMap()); err != nil {
		return data
	}
	return []byte(out.String())
}

// environMap snapshots the process environment as template data, splitting
// on the first = so values containing = stay intact.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}
