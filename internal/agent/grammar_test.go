package agent

import (
	"maps"
	"testing"
)

func TestParseToolCalls(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		names []string
		args  []map[string]string
	}{
		{
			name:  "bare",
			in:    "Let me check.{{tool:list_files}}",
			names: []string{"list_files"},
			args:  []map[string]string{{}},
		},
		{
			name:  "pipe args",
			in:    "{{tool:github_issue|repo=golang/go|number=123}}",
			names: []string{"github_issue"},
			args:  []map[string]string{{"repo": "golang/go", "number": "123"}},
		},
		{
			name:  "pipe args keep spaces",
			in:    "{{tool:wiki_search | query = Ada Lovelace | limit=2 }}",
			names: []string{"wiki_search"},
			args:  []map[string]string{{"query": "Ada Lovelace", "limit": "2"}},
		},
		{
			name:  "space args with quotes",
			in:    `{{tool:shell command="ls -la /tmp" timeout_ms=500}}`,
			names: []string{"shell"},
			args:  []map[string]string{{"command": "ls -la /tmp", "timeout_ms": "500"}},
		},
		{
			name:  "single quotes",
			in:    `{{tool:read_file name='my notes.txt'}}`,
			names: []string{"read_file"},
			args:  []map[string]string{{"name": "my notes.txt"}},
		},
		{
			name:  "order preserved and name lowercased",
			in:    "first {{tool:Wiki_Summary|title=Go}} then {{ tool : list_files }}",
			names: []string{"wiki_summary", "list_files"},
			args:  []map[string]string{{"title": "Go"}, {}},
		},
		{
			name: "none",
			in:   "just prose with {{braces}}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseToolCalls(tt.in)
			if len(got) != len(tt.names) {
				t.Fatalf("got %d calls, want %d: %+v", len(got), len(tt.names), got)
			}
			for i, c := range got {
				if c.Name != tt.names[i] {
					t.Errorf("call %d name = %q, want %q", i, c.Name, tt.names[i])
				}
				if !maps.Equal(c.Args, tt.args[i]) {
					t.Errorf("call %d args = %v, want %v", i, c.Args, tt.args[i])
				}
			}
		})
	}
}

func TestStripToolSyntax(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Let me check.{{tool:list_files}}", "Let me check."},
		{"Here.\n\n{{tool:a}}\n\n\n\nDone.", "Here.\n\nDone."},
		{"Answer is 4. {{tool:calc|expr=2+2", "Answer is 4."},
		{"plain", "plain"},
		{"{{tool:x}}", ""},
	}
	for _, tt := range tests {
		if got := StripToolSyntax(tt.in); got != tt.want {
			t.Errorf("StripToolSyntax(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasToolSyntax(t *testing.T) {
	if !HasToolSyntax("x {{tool:y") {
		t.Error("dangling directive not detected")
	}
	if HasToolSyntax("{{not a tool}}") {
		t.Error("false positive")
	}
}

func TestInferToolCalls(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Can you list my files?", []string{"list_files"}},
		{"show me the files please", []string{"list_files"}},
		{"look at https://github.com/golang/go and github.com/golang/go.git", []string{"github_repo"}},
		{"who is Ada Lovelace?", []string{"wiki_search"}},
		{"what is in github.com/a/b", []string{"github_repo"}},
		{"hello there", nil},
	}
	for _, tt := range tests {
		got := InferToolCalls(tt.in)
		var names []string
		for _, c := range got {
			names = append(names, c.Name)
		}
		if len(names) != len(tt.want) {
			t.Errorf("InferToolCalls(%q) = %v, want %v", tt.in, names, tt.want)
			continue
		}
		for i := range names {
			if names[i] != tt.want[i] {
				t.Errorf("InferToolCalls(%q) = %v, want %v", tt.in, names, tt.want)
			}
		}
	}

	calls := InferToolCalls("who is Ada Lovelace?")
	if q := calls[0].Args["query"]; q != "Ada Lovelace" {
		t.Errorf("query = %q", q)
	}
	calls = InferToolCalls("see github.com/golang/go.git")
	if r := calls[0].Args["repo"]; r != "golang/go" {
		t.Errorf("repo = %q", r)
	}
}
