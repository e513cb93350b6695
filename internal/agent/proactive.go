package agent

import (
	"regexp"
	"strings"

	"github.com/nugget/hearth/internal/tools"
)

var (
	listFilesPattern = regexp.MustCompile(`(?i)\b(list|show)\b.*\bfiles?\b`)
	repoURLPattern   = regexp.MustCompile(`(?i)\bgithub\.com/([A-Za-z0-9_.\-]+)/([A-Za-z0-9_.\-]+)`)
	whoWhatPattern   = regexp.MustCompile(`(?i)^\s*(who|what)\s+(is|was|are|were)\s+(.+?)[\s?.!]*$`)
)

// maxProactiveRepos bounds how many repo URLs in one message are looked
// up ahead of the model.
const maxProactiveRepos = 2

// InferToolCalls returns the calls obviously needed to answer text, so
// their results can ride along with the first model call.
func InferToolCalls(text string) []tools.Call {
	var calls []tools.Call
	if listFilesPattern.MatchString(text) {
		calls = append(calls, tools.Call{Name: "list_files", Args: map[string]string{}})
	}

	seen := make(map[string]bool)
	for _, m := range repoURLPattern.FindAllStringSubmatch(text, -1) {
		repo := m[1] + "/" + strings.TrimSuffix(m[2], ".git")
		key := strings.ToLower(repo)
		if seen[key] || len(seen) == maxProactiveRepos {
			continue
		}
		seen[key] = true
		calls = append(calls, tools.Call{Name: "github_repo", Args: map[string]string{"repo": repo}})
	}

	if len(calls) == 0 {
		if m := whoWhatPattern.FindStringSubmatch(text); m != nil && !strings.Contains(m[3], "\n") {
			calls = append(calls, tools.Call{Name: "wiki_search", Args: map[string]string{"query": m[3], "limit": "3"}})
		}
	}
	return calls
}
