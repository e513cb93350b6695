package tools

import "context"

// FileEntry describes one file in the user's workspace.
type FileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"` // "file" or "dir"
	Type string `json:"type"` // MIME type, "" for directories
	Size int64  `json:"size"`
}

// Filesystem lists and reads the user's files.
type Filesystem interface {
	ListFiles(ctx context.Context) ([]FileEntry, error)
	// ReadFile accepts a file id or name.
	ReadFile(ctx context.Context, idOrName string) ([]byte, error)
}

// SearchHit is one encyclopedia search result.
type SearchHit struct {
	Title   string
	Snippet string
}

// Summary is a plain-text article summary.
type Summary struct {
	Title   string
	Extract string
	URL     string
}

// Encyclopedia searches and summarizes articles.
type Encyclopedia interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Summary(ctx context.Context, title string) (Summary, error)
}

// RepoInfo is public repository metadata.
type RepoInfo struct {
	FullName      string
	Description   string
	URL           string
	DefaultBranch string
	Language      string
	Stars         int
	Forks         int
	OpenIssues    int
	Archived      bool
	Topics        []string
}

// IssueInfo is an issue or pull request.
type IssueInfo struct {
	Number int
	Title  string
	State  string
	Author string
	URL    string
	Body   string
	Merged bool
}

// RepoFile is either a file's decoded content or a directory listing.
type RepoFile struct {
	Path    string
	Content string
	Entries []string
	Size    int
}

// CodeHost reads public repositories.
type CodeHost interface {
	Repo(ctx context.Context, owner, name string) (RepoInfo, error)
	Issue(ctx context.Context, owner, name string, number int) (IssueInfo, error)
	PullRequest(ctx context.Context, owner, name string, number int) (IssueInfo, error)
	File(ctx context.Context, owner, name, path, ref string) (RepoFile, error)
}

// ExecRequest is sent to the shell relay.
type ExecRequest struct {
	Command   string `json:"command"`
	TimeoutMs int    `json:"timeoutMs"`
}

// ExecResult is the relay's answer.
type ExecResult struct {
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	TimedOut  bool   `json:"timedOut"`
	Truncated bool   `json:"truncated"`
}

// ShellRelay executes commands on the user's machine.
type ShellRelay interface {
	Exec(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// WindowAction is a window-manager command. Only the fields relevant to
// Action are set.
type WindowAction struct {
	Action string `json:"action"`
	Target string `json:"target,omitempty"`
	App    string `json:"app,omitempty"`
	URL    string `json:"url,omitempty"`
	Layout string `json:"layout,omitempty"`
}

// WindowActions is the closed set of supported actions.
var WindowActions = []string{"list", "tile", "arrange", "focus", "minimize", "restore", "open_app", "open_url"}

// WindowManager performs window actions and returns a short result.
type WindowManager interface {
	Do(ctx context.Context, action WindowAction) (string, error)
}

// Collaborators bundles the external systems tools forward to. Nil
// members make their tools answer "failed (not configured)".
type Collaborators struct {
	Files        Filesystem
	Wiki         Encyclopedia
	Code         CodeHost
	Shell        ShellRelay
	RelayEnabled bool
	Windows      WindowManager
}
