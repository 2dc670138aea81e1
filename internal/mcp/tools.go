package mcp

// GetContextInput defines the input schema for the get_context tool.
type GetContextInput struct {
	Query string `json:"query" jsonschema:"the request to assemble architecture and sprint context for"`
}

// GetContextOutput defines the output schema for the get_context tool.
type GetContextOutput struct {
	Context  string   `json:"context" jsonschema:"rendered context block ready to prepend to a prompt"`
	Sources  []string `json:"sources" jsonschema:"files the architecture rules were taken from"`
	SprintID string   `json:"sprint_id,omitempty" jsonschema:"active sprint, empty when none"`
}

// SearchArchitectureInput defines the input schema for the search_architecture tool.
type SearchArchitectureInput struct {
	Query string `json:"query" jsonschema:"what to look up in the architecture and standards documents"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
}

// SnippetOutput is one retrieved chunk.
type SnippetOutput struct {
	FilePath   string  `json:"file_path" jsonschema:"absolute path of the source file"`
	ChunkIndex int     `json:"chunk_index" jsonschema:"position of the chunk in the file"`
	Layer      string  `json:"layer,omitempty" jsonschema:"knowledge layer of the file"`
	Score      float64 `json:"score" jsonschema:"cosine similarity to the query"`
	Content    string  `json:"content" jsonschema:"chunk text"`
}

// SearchOutput defines the output schema for search tools.
type SearchOutput struct {
	Results []SnippetOutput `json:"results" jsonschema:"matching chunks ordered by score"`
}

// RecordDecisionInput defines the input schema for the record_decision tool.
type RecordDecisionInput struct {
	Decision string `json:"decision" jsonschema:"the architectural decision to remember"`
}

// DecisionOutput is one ledger entry.
type DecisionOutput struct {
	ID         string  `json:"id"`
	ProjectID  string  `json:"project_id,omitempty"`
	Content    string  `json:"content"`
	RecordedAt string  `json:"recorded_at"`
	Score      float64 `json:"score,omitempty"`
}

// RecallDecisionsInput defines the input schema for the recall_decisions tool.
type RecallDecisionsInput struct {
	Query string `json:"query" jsonschema:"topic to recall past decisions about"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of decisions, default 3"`
}

// RecallDecisionsOutput defines the output schema for the recall_decisions tool.
type RecallDecisionsOutput struct {
	Decisions []DecisionOutput `json:"decisions"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project    ProjectInfo   `json:"project"`
	Stats      IndexStats    `json:"stats"`
	Embeddings EmbeddingInfo `json:"embeddings"`
	Sprint     string        `json:"sprint,omitempty"`
}

// ProjectInfo describes the served project.
type ProjectInfo struct {
	ID       string `json:"id"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// IndexStats describes the shared collection and this project's manifest.
type IndexStats struct {
	Online      bool   `json:"online"`
	Collection  string `json:"collection"`
	Points      uint64 `json:"points"`
	FileCount   int    `json:"file_count"`
	ChunkCount  int    `json:"chunk_count"`
	LastIndexed string `json:"last_indexed,omitempty"`
	Error       string `json:"error,omitempty"`
}

// EmbeddingInfo reports the runtime embedder so clients can judge result quality.
type EmbeddingInfo struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Status     string `json:"status"`
}
