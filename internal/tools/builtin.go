package tools

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// File excerpt bounds for read_file.
const (
	ExcerptThreshold = 6000
	ExcerptHead      = 3500
	ExcerptTail      = 1500
)

// RegisterBuiltins installs the fixed tool set backed by c.
func RegisterBuiltins(r *Registry, c Collaborators) {
	b := &builtins{c: c}

	r.Register(&Tool{
		Name:        "list_files",
		Description: "List the files in the user's workspace.",
		Usage:       "{{tool:list_files}}",
		Handler:     b.listFiles,
	})
	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read one workspace file by name or id. Large files return the beginning and end.",
		Usage:       "{{tool:read_file|name=notes.txt}}",
		Handler:     b.readFile,
	})
	r.Register(&Tool{
		Name:        "wiki_search",
		Description: "Search Wikipedia and return matching article titles.",
		Usage:       "{{tool:wiki_search|query=tidal locking|limit=5}}",
		Handler:     b.wikiSearch,
	})
	r.Register(&Tool{
		Name:        "wiki_summary",
		Description: "Fetch the plain-text summary of one Wikipedia article.",
		Usage:       "{{tool:wiki_summary|title=Tidal locking}}",
		Handler:     b.wikiSummary,
	})
	r.Register(&Tool{
		Name:        "github_repo",
		Description: "Read public GitHub repository metadata.",
		Usage:       "{{tool:github_repo|repo=owner/name}}",
		Handler:     b.githubRepo,
	})
	r.Register(&Tool{
		Name:        "github_issue",
		Description: "Read a GitHub issue's title, state and body.",
		Usage:       "{{tool:github_issue|repo=owner/name|number=12}}",
		Handler:     b.githubIssue,
	})
	r.Register(&Tool{
		Name:        "github_pr",
		Description: "Read a GitHub pull request's title, state and body.",
		Usage:       "{{tool:github_pr|repo=owner/name|number=34}}",
		Handler:     b.githubPR,
	})
	r.Register(&Tool{
		Name:        "github_file",
		Description: "Read a file or list a directory in a GitHub repository.",
		Usage:       "{{tool:github_file|repo=owner/name|path=README.md|ref=main}}",
		Handler:     b.githubFile,
	})
	r.Register(&Tool{
		Name:        "shell",
		Description: "Run a shell command on the user's machine through the local relay.",
		Usage:       "{{tool:shell|command=uptime|timeout_ms=10000}}",
		Handler:     b.shell,
	})
	r.Register(&Tool{
		Name:        "window",
		Description: "Control desktop windows. action is one of " + strings.Join(WindowActions, ", ") + ".",
		Usage:       "{{tool:window|action=open_url|url=https://example.com}}",
		Handler:     b.window,
	})
}

type builtins struct {
	c Collaborators
}

func (b *builtins) listFiles(ctx context.Context, _ Call) (string, error) {
	if b.c.Files == nil {
		return "", ErrNotConfigured
	}
	entries, err := b.c.Files.ListFiles(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "no files", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d entries:\n", len(entries))
	for _, e := range entries {
		if e.Kind == "dir" {
			fmt.Fprintf(&sb, "- %s/ (id=%s)\n", e.Name, e.ID)
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s, %d bytes, id=%s)\n", e.Name, e.Type, e.Size, e.ID)
	}
	return sb.String(), nil
}

func (b *builtins) readFile(ctx context.Context, call Call) (string, error) {
	if b.c.Files == nil {
		return "", ErrNotConfigured
	}
	ref := call.Arg("name", "id", "path")
	if ref == "" {
		return "", fmt.Errorf("name or id is required")
	}
	data, err := b.c.Files.ReadFile(ctx, ref)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("%s is a binary file (%d bytes)", ref, len(data)), nil
	}
	return Excerpt(string(data)), nil
}

// Excerpt returns s unchanged when short, otherwise its head and tail
// around an elision marker.
func Excerpt(s string) string {
	if len(s) <= ExcerptThreshold {
		return s
	}
	head := cutRunes(s, ExcerptHead)
	tail := tailRunes(s, ExcerptTail)
	omitted := len(s) - len(head) - len(tail)
	return fmt.Sprintf("%s\n…[%d bytes omitted]…\n%s", head, omitted, tail)
}

func (b *builtins) wikiSearch(ctx context.Context, call Call) (string, error) {
	if b.c.Wiki == nil {
		return "", ErrNotConfigured
	}
	q := call.Arg("query", "q", "title")
	if q == "" {
		return "", fmt.Errorf("query is required")
	}
	limit := min(intArg(call, "limit", 5), 10)
	hits, err := b.c.Wiki.Search(ctx, q, limit)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return fmt.Sprintf("no articles match %q", q), nil
	}
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s", i+1, h.Title)
		if h.Snippet != "" {
			fmt.Fprintf(&sb, ": %s", h.Snippet)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func (b *builtins) wikiSummary(ctx context.Context, call Call) (string, error) {
	if b.c.Wiki == nil {
		return "", ErrNotConfigured
	}
	title := call.Arg("title", "query")
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	s, err := b.c.Wiki.Summary(ctx, title)
	if err != nil {
		return "", err
	}
	out := s.Title + "\n" + s.Extract
	if s.URL != "" {
		out += "\n" + s.URL
	}
	return out, nil
}

func (b *builtins) githubRepo(ctx context.Context, call Call) (string, error) {
	if b.c.Code == nil {
		return "", ErrNotConfigured
	}
	owner, name, err := SplitRepo(call.Arg("repo", "url"))
	if err != nil {
		return "", err
	}
	info, err := b.c.Code.Repo(ctx, owner, name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", info.FullName, info.Description)
	fmt.Fprintf(&sb, "stars=%d forks=%d open_issues=%d default_branch=%s", info.Stars, info.Forks, info.OpenIssues, info.DefaultBranch)
	if info.Language != "" {
		fmt.Fprintf(&sb, " language=%s", info.Language)
	}
	if info.Archived {
		sb.WriteString(" archived")
	}
	if len(info.Topics) > 0 {
		fmt.Fprintf(&sb, "\ntopics: %s", strings.Join(info.Topics, ", "))
	}
	fmt.Fprintf(&sb, "\n%s", info.URL)
	return sb.String(), nil
}

func (b *builtins) githubIssue(ctx context.Context, call Call) (string, error) {
	return b.issueLike(ctx, call, false)
}

func (b *builtins) githubPR(ctx context.Context, call Call) (string, error) {
	return b.issueLike(ctx, call, true)
}

func (b *builtins) issueLike(ctx context.Context, call Call, pr bool) (string, error) {
	if b.c.Code == nil {
		return "", ErrNotConfigured
	}
	owner, name, err := SplitRepo(call.Arg("repo"))
	if err != nil {
		return "", err
	}
	n := intArg(call, "number", 0)
	if n <= 0 {
		return "", fmt.Errorf("number must be a positive integer")
	}
	var info IssueInfo
	if pr {
		info, err = b.c.Code.PullRequest(ctx, owner, name, n)
	} else {
		info, err = b.c.Code.Issue(ctx, owner, name, n)
	}
	if err != nil {
		return "", err
	}
	state := info.State
	if info.Merged {
		state = "merged"
	}
	return fmt.Sprintf("#%d %s [%s] by %s\n%s\n\n%s", info.Number, info.Title, state, info.Author, info.URL, strings.TrimSpace(info.Body)), nil
}

func (b *builtins) githubFile(ctx context.Context, call Call) (string, error) {
	if b.c.Code == nil {
		return "", ErrNotConfigured
	}
	owner, name, err := SplitRepo(call.Arg("repo"))
	if err != nil {
		return "", err
	}
	f, err := b.c.Code.File(ctx, owner, name, call.Arg("path"), call.Arg("ref"))
	if err != nil {
		return "", err
	}
	if f.Entries != nil {
		return fmt.Sprintf("%s/ contains:\n%s", strings.TrimSuffix(f.Path, "/"), strings.Join(f.Entries, "\n")), nil
	}
	return fmt.Sprintf("%s (%d bytes)\n%s", f.Path, f.Size, Excerpt(f.Content)), nil
}

func (b *builtins) shell(ctx context.Context, call Call) (string, error) {
	if !b.c.RelayEnabled {
		return "", ErrRelayDisabled
	}
	if b.c.Shell == nil {
		return "", ErrNotConfigured
	}
	cmd := call.Arg("command", "cmd")
	if cmd == "" {
		return "", fmt.Errorf("command is required")
	}
	timeout := intArg(call, "timeout_ms", 15000)
	timeout = max(1000, min(timeout, 120000))

	res, err := b.c.Shell.Exec(ctx, ExecRequest{Command: cmd, TimeoutMs: timeout})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "exit=%d", res.ExitCode)
	if res.TimedOut {
		sb.WriteString(" timed_out")
	}
	if res.Truncated {
		sb.WriteString(" truncated")
	}
	if out := strings.TrimRight(res.Stdout, "\n"); out != "" {
		fmt.Fprintf(&sb, "\nstdout:\n%s", out)
	}
	if errOut := strings.TrimRight(res.Stderr, "\n"); errOut != "" {
		fmt.Fprintf(&sb, "\nstderr:\n%s", errOut)
	}
	return sb.String(), nil
}

func (b *builtins) window(ctx context.Context, call Call) (string, error) {
	if b.c.Windows == nil {
		return "", ErrNotConfigured
	}
	action := WindowAction{
		Action: strings.ToLower(call.Arg("action")),
		Target: call.Arg("id", "target", "window"),
		App:    call.Arg("app"),
		URL:    call.Arg("url"),
		Layout: call.Arg("layout"),
	}
	if !slices.Contains(WindowActions, action.Action) {
		return "", fmt.Errorf("unknown action %q", action.Action)
	}
	switch action.Action {
	case "focus", "minimize", "restore":
		if action.Target == "" {
			return "", fmt.Errorf("%s needs a window id", action.Action)
		}
	case "open_app":
		if action.App == "" {
			return "", fmt.Errorf("open_app needs app")
		}
	case "open_url":
		u, err := url.Parse(action.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return "", fmt.Errorf("open_url needs an http(s) url")
		}
	}
	return b.c.Windows.Do(ctx, action)
}

// SplitRepo accepts "owner/name" or a github.com URL.
func SplitRepo(s string) (owner, name string, err error) {
	s = strings.TrimSpace(s)
	for _, p := range []string{"https://", "http://", "www.", "github.com/"} {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")
	parts := strings.Split(s, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repo must be owner/name, got %q", s)
	}
	return parts[0], parts[1], nil
}

func intArg(call Call, key string, def int) int {
	v := call.Arg(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimPrefix(v, "#"))
	if err != nil {
		return def
	}
	return n
}
