package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

const resultColumns = `c.id, c.path, c.chunk_index, c.content, c.start_byte, c.end_byte,
			c.start_line, c.end_line, c.file_type`

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filter *Filter) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, limit, filter)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, queryVector, limit, filter)
}

// searchVectorOptimized computes distances in SQL with the sqlite-vec extension
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filter *Filter) ([]Result, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns a distance (lower is better)
	query := `
		SELECT ` + resultColumns + `,
			1.0 - vec_distance_cosine(c.vector, ?) AS similarity
		FROM chunks c
		WHERE c.dimension = ?
	`
	args := []interface{}{queryVectorBlob, len(queryVector)}

	query, args = applyVectorFilters(query, args, filter)

	if filter != nil && filter.MinScore > 0 {
		query += " AND (1.0 - vec_distance_cosine(c.vector, ?)) >= ?"
		args = append(args, queryVectorBlob, filter.MinScore)
	}

	query += " ORDER BY similarity DESC, c.path, c.chunk_index LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Result, 0, limit)
	for rows.Next() {
		var r Result
		m := &r.Metadata
		if err := rows.Scan(&r.ID, &m.Path, &m.ChunkIndex, &m.Content, &m.StartByte, &m.EndByte,
			&m.StartLine, &m.EndLine, &m.FileType, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// searchVectorFallback reads candidate vectors and ranks them in Go
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int, filter *Filter) ([]Result, error) {
	query := `
		SELECT ` + resultColumns + `, c.vector
		FROM chunks c
		WHERE c.dimension = ?
	`
	args := []interface{}{len(queryVector)}

	query, args = applyVectorFilters(query, args, filter)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, filter)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return topResults(candidates, limit), nil
}

// applyVectorFilters adds WHERE clause filters for vector search
func applyVectorFilters(query string, args []interface{}, filter *Filter) (string, []interface{}) {
	if filter == nil {
		return query, args
	}

	if filter.PathPrefix != "" {
		query += " AND c.path GLOB ?"
		args = append(args, sqlPrefixPattern(filter.PathPrefix))
	}

	if len(filter.FileTypes) > 0 {
		placeholders := make([]string, len(filter.FileTypes))
		for i, ft := range filter.FileTypes {
			placeholders[i] = "?"
			args = append(args, strings.ToLower(strings.TrimPrefix(ft, ".")))
		}
		query += " AND c.file_type IN (" + strings.Join(placeholders, ",") + ")"
	}

	if filter.FilePattern != "" {
		if strings.Contains(filter.FilePattern, "/") {
			query += " AND c.path GLOB ?"
		} else {
			query += " AND c.file_name GLOB ?"
		}
		args = append(args, filter.FilePattern)
	}

	return query, args
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, filter *Filter) ([]Result, error) {
	candidates := make([]Result, 0, 256)

	for rows.Next() {
		var r Result
		var vectorBlob []byte
		m := &r.Metadata
		if err := rows.Scan(&r.ID, &m.Path, &m.ChunkIndex, &m.Content, &m.StartByte, &m.EndByte,
			&m.StartLine, &m.EndLine, &m.FileType, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue
		}

		r.Score = cosineSimilarity(queryVector, vector)
		if filter != nil && filter.MinScore > 0 && r.Score < filter.MinScore {
			continue
		}

		candidates = append(candidates, r)
	}

	return candidates, rows.Err()
}

// topResults returns the first limit candidates
func topResults(candidates []Result, limit int) []Result {
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]Result, limit)
	copy(out, candidates[:limit])
	return out
}

// serializeVector converts a float32 slice to a byte blob (little-endian),
// the layout sqlite-vec reads
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortCandidates orders by score descending, then path and chunk index so
// equal scores rank deterministically
func sortCandidates(candidates []Result) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metadata.Path != b.Metadata.Path {
			return a.Metadata.Path < b.Metadata.Path
		}
		return a.Metadata.ChunkIndex < b.Metadata.ChunkIndex
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
