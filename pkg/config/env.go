package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// envPatterns are the recognized reference forms, tried in order. The
// ${VAR:-default} form must run first so the braced form cannot eat its
// default clause.
var envPatterns = []struct {
	re         *regexp.Regexp
	hasDefault bool
}{
	{regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*):-(.*?)\}`), true},
	{regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`), false},
	{regexp.MustCompile(`\$([A-Z_][A-Z0-9_]*)`), false},
}

// expandEnvVars resolves ${VAR}, ${VAR:-default} and $VAR references in s.
// An unset variable expands to its default clause when one is given, to the
// empty string otherwise.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	for _, p := range envPatterns {
		s = p.re.ReplaceAllStringFunc(s, func(match string) string {
			groups := p.re.FindStringSubmatch(match)
			if val := os.Getenv(groups[1]); val != "" {
				return val
			}
			if p.hasDefault {
				return groups[2]
			}
			return ""
		})
	}
	return s
}

// ExpandEnvVarsInData walks a decoded YAML tree and expands environment
// references in every string leaf. A leaf whose value came entirely from
// substitution is re-typed so "8080" and "true" keep the type YAML would
// have given them.
func ExpandEnvVarsInData(data any) any {
	switch v := data.(type) {
	case string:
		expanded := expandEnvVars(v)
		if expanded == v {
			return v
		}
		switch strings.ToLower(expanded) {
		case "true":
			return true
		case "false":
			return false
		}
		if n, err := strconv.Atoi(expanded); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(expanded, 64); err == nil {
			return f
		}
		return expanded

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = ExpandEnvVarsInData(value)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ExpandEnvVarsInData(item)
		}
		return out

	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env from the working directory so
// local overrides win. Missing files are fine.
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}
