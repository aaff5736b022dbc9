package verify

import (
	"regexp"
	"strings"
)

// Per-ecosystem patterns for file paths implicated in tool output. Each
// pattern's first capture group is the path.
var (
	// rustc: `  --> src/main.rs:10:5`
	rustArrowRe = regexp.MustCompile(`-->\s+([\w./+-]+\.rs):\d+`)

	// go build/test: `pkg/foo/bar.go:12:3: undefined: baz`
	goDiagRe = regexp.MustCompile(`(?m)(?:^|\s)([\w./+-]+\.go):\d+`)

	// tsc/eslint/node stack traces: `src/app.ts:12:5`, `at fn (src/app.js:3:1)`
	nodeDiagRe = regexp.MustCompile(`([\w./+-]+\.(?:ts|tsx|js|jsx|mjs|cjs)):\d+`)

	// python tracebacks: `File "app/main.py", line 7`
	pythonDiagRe = regexp.MustCompile(`File "([^"]+\.py)", line \d+`)

	// fallback: any path-looking token with a known source extension
	genericPathRe = regexp.MustCompile(`([\w./+-]+\.(?:rs|go|ts|tsx|js|jsx|py|java|c|cc|cpp|h|hpp))\b`)
)

// kindPatterns orders the patterns tried for each ecosystem. The generic
// pattern always runs last so cross-language output still yields hints.
var kindPatterns = map[Kind][]*regexp.Regexp{
	KindRust:    {rustArrowRe, genericPathRe},
	KindGo:      {goDiagRe, genericPathRe},
	KindNode:    {nodeDiagRe, genericPathRe},
	KindPython:  {pythonDiagRe, genericPathRe},
	KindUnknown: {genericPathRe},
}

// ExtractPaths returns the ordered set of file paths implicated in output,
// using the pattern rules for the detected ecosystem. Duplicates are
// removed, first occurrence wins.
func ExtractPaths(kind Kind, output string) []string {
	patterns, ok := kindPatterns[kind]
	if !ok {
		patterns = kindPatterns[KindUnknown]
	}

	seen := make(map[string]struct{})
	var paths []string
	for _, re := range patterns {
		for _, match := range re.FindAllStringSubmatch(output, -1) {
			path := cleanPath(match[1])
			if path == "" {
				continue
			}
			if _, dup := seen[path]; dup {
				continue
			}
			seen[path] = struct{}{}
			paths = append(paths, path)
		}
	}
	return paths
}

// cleanPath drops noise tokens that match the path shape but are not files.
func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	// Skip URLs and flag-like tokens.
	if strings.Contains(p, "://") || strings.HasPrefix(p, "-") {
		return ""
	}
	return p
}
