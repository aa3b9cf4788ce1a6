package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go's
// text/template syntax: {{.VAR_NAME}}.
//
// Template syntax is used instead of shell-style ${VAR}/$VAR expansion
// so that literal dollar signs survive untouched — message-pattern
// regexes ("^!cmd$") and passwords routinely contain $ and must never be
// mangled by config loading.
//
// Missing variables expand to empty string. Malformed templates are
// passed through unchanged, letting the YAML parser handle the content
// (or fail with a clearer error message).
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
