package models

// FileStatus is the change status GitHub reports for a file in a PR.
// Unknown statuses are passed through verbatim.
type FileStatus string

const (
	FileStatusAdded    FileStatus = "added"
	FileStatusModified FileStatus = "modified"
	FileStatusRemoved  FileStatus = "removed"
	FileStatusRenamed  FileStatus = "renamed"
)

// FileDiff is one changed file of a pull request as fetched from the provider.
type FileDiff struct {
	Filename  string     `json:"filename"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Changes   int        `json:"changes"`
	Patch     *string    `json:"patch,omitempty"` // nil for binary or removed files
	BlobURL   string     `json:"blob_url,omitempty"`
	RawURL    string     `json:"raw_url,omitempty"`
}

// Analyzable reports whether the file has a diff worth sending to analysis.
func (f FileDiff) Analyzable() bool {
	return f.Status != FileStatusRemoved && f.Patch != nil && *f.Patch != ""
}

// PullRequest is a point-in-time snapshot of a PR. It is never persisted as is.
type PullRequest struct {
	Number        int        `json:"number"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	URL           string     `json:"url"`
	Author        string     `json:"author"`
	HeadBranch    string     `json:"head_branch"`
	BaseBranch    string     `json:"base_branch"`
	HeadSHA       string     `json:"head_sha"`
	CommitMessage string     `json:"commit_message"`
	State         string     `json:"state"`
	Files         []FileDiff `json:"files,omitempty"`
}
