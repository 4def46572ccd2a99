// internal/utils/env.go
package utils

import (
	"os"
	"regexp"
)

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references. Bare $VAR is
// left alone so regular expressions and replacement templates like $1 survive.
func ExpandEnv(content string) string {
	return envRefRe.ReplaceAllStringFunc(content, func(ref string) string {
		m := envRefRe.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}
