package types

// SearchResult is a single ranked match returned from the vector index
type SearchResult struct {
	ID         string  `json:"id"`
	Rank       int     `json:"rank"` // 1-based
	Score      float64 `json:"score"`
	Path       string  `json:"path"`
	ChunkIndex int     `json:"chunk_index"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	StartByte  int     `json:"start_byte"`
	EndByte    int     `json:"end_byte"`
	Content    string  `json:"content"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.Path == "" {
		return ErrEmptyPath
	}
	if sr.Rank < 1 {
		return ErrInvalidRank
	}
	if sr.Score < -1 || sr.Score > 1 {
		return ErrInvalidScore
	}
	if sr.Content == "" {
		return ErrEmptyContent
	}
	return nil
}
