package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultComment ResultType = "comment"
	ResultAudit   ResultType = "audit"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type        ResultType `json:"type"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet"`
	ReleaseID   string     `json:"releaseId"`
	NamespaceID string     `json:"namespaceId"`
}

// Query describes a search request.
type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterReleaseID string
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID          string `json:"id"`
	Body        string `json:"body"`
	AuthorID    string `json:"authorId"`
	ReleaseID   string `json:"releaseId"`
	NamespaceID string `json:"namespaceId"`
	Status      string `json:"status"`
}

// AuditRecord is the data we index for an audit entry.
type AuditRecord struct {
	ID          string `json:"id"`
	EntityType  string `json:"entityType"`
	EntityID    string `json:"entityId"`
	Action      string `json:"action"`
	Actor       string `json:"actor"`
	ReleaseID   string `json:"releaseId"`
	NamespaceID string `json:"namespaceId"`
}
