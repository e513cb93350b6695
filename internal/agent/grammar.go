package agent

import (
	"regexp"
	"strings"

	"github.com/nugget/hearth/internal/tools"
)

// callPattern matches one inline directive. Arguments follow the name
// either pipe-separated or space-separated.
var callPattern = regexp.MustCompile(`(?s)\{\{\s*tool\s*:\s*([A-Za-z0-9_.\-]+)(.*?)\}\}`)

// danglingPattern catches an opened directive the model never closed.
var danglingPattern = regexp.MustCompile(`\{\{\s*tool\s*:[^\n]*`)

var blankLines = regexp.MustCompile(`\n{3,}`)

// ParseToolCalls returns the directives in s in order of appearance.
func ParseToolCalls(s string) []tools.Call {
	matches := callPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	calls := make([]tools.Call, 0, len(matches))
	for _, m := range matches {
		calls = append(calls, tools.Call{
			Name: strings.ToLower(m[1]),
			Args: parseArgs(m[2]),
		})
	}
	return calls
}

// HasToolSyntax reports whether s contains a directive, complete or not.
func HasToolSyntax(s string) bool {
	return callPattern.MatchString(s) || danglingPattern.MatchString(s)
}

// StripToolSyntax removes directives, including unterminated ones, and
// tidies the whitespace left behind.
func StripToolSyntax(s string) string {
	s = callPattern.ReplaceAllString(s, "")
	s = danglingPattern.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func parseArgs(rest string) map[string]string {
	args := make(map[string]string)
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return args
	}
	if strings.HasPrefix(rest, "|") {
		for _, part := range strings.Split(rest[1:], "|") {
			k, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			setArg(args, k, unquote(strings.TrimSpace(v)))
		}
		return args
	}
	for _, tok := range splitFields(rest) {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			continue
		}
		setArg(args, k, unquote(v))
	}
	return args
}

func setArg(args map[string]string, k, v string) {
	k = strings.ToLower(strings.TrimSpace(k))
	if k != "" {
		args[k] = v
	}
}

// splitFields splits on spaces outside single or double quotes.
func splitFields(s string) []string {
	var (
		fields []string
		cur    strings.Builder
		quote  rune
	)
	for _, r := range s {
		switch {
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
			cur.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
