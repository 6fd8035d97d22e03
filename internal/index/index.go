// Package index builds and queries the offline similarity index of source
// chunks used to enrich diagnostic context with related code.
package index

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/metalagman/buildmend/internal/excerpt"
	"github.com/metalagman/buildmend/internal/llm"
)

const (
	defaultChunkLines = 50
	embedBatch        = 32
)

// ErrNoEmbedder is returned by Build when no embedding backend is configured.
var ErrNoEmbedder = errors.New("no embedding provider configured")

var skipDirs = map[string]bool{".git": true, ".buildmend": true}

// Options controls what gets indexed.
type Options struct {
	ChunkLines int
	Extensions []string
}

// Stats summarizes one indexing pass.
type Stats struct {
	Files  int
	Chunks int
}

// Index stores embedded chunks in the chunks table of the state database.
type Index struct {
	db       *sql.DB
	fs       afero.Fs
	embedder llm.Embedder
	opts     Options
}

// New returns an index over conn. embedder may be nil, in which case Search
// returns no results and Build fails with ErrNoEmbedder.
func New(conn *sql.DB, fsys afero.Fs, embedder llm.Embedder, opts Options) *Index {
	if opts.ChunkLines <= 0 {
		opts.ChunkLines = defaultChunkLines
	}
	return &Index{db: conn, fs: fsys, embedder: embedder, opts: opts}
}

type chunk struct {
	file  string
	index int
	code  string
}

// Build replaces the index with the chunks of every matching file under root.
func (ix *Index) Build(ctx context.Context, root string) (Stats, error) {
	if ix.embedder == nil {
		return Stats{}, ErrNoEmbedder
	}
	chunks, files, err := ix.collect(root)
	if err != nil {
		return Stats{}, err
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatch {
		end := min(start+embedBatch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.code)
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			return Stats{}, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(texts) {
			return Stats{}, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(texts))
		}
		vectors = append(vectors, vecs...)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin index: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return Stats{}, fmt.Errorf("clear chunks: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for i, c := range chunks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks(file, chunk, code, vector, indexed_at) VALUES(?, ?, ?, ?, ?)`,
			c.file, c.index, c.code, encodeVector(vectors[i]), now); err != nil {
			return Stats{}, fmt.Errorf("insert chunk %s#%d: %w", c.file, c.index, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit index: %w", err)
	}

	log.Info().Int("files", files).Int("chunks", len(chunks)).Msg("index built")
	return Stats{Files: files, Chunks: len(chunks)}, nil
}

func (ix *Index) collect(root string) ([]chunk, int, error) {
	var (
		chunks []chunk
		files  int
	)
	err := afero.Walk(ix.fs, root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && skipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !ix.wanted(path) {
			return nil
		}
		data, err := afero.ReadFile(ix.fs, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		files++
		for i, code := range Chunk(string(data), ix.opts.ChunkLines) {
			chunks = append(chunks, chunk{file: filepath.ToSlash(rel), index: i, code: code})
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walk %s: %w", root, err)
	}
	return chunks, files, nil
}

func (ix *Index) wanted(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range ix.opts.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Search returns the k chunks most similar to query.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]excerpt.Match, error) {
	if ix.embedder == nil || k <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	q := vecs[0]

	rows, err := ix.db.QueryContext(ctx, `SELECT file, code, vector FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []excerpt.Match
	for rows.Next() {
		var (
			m    excerpt.Match
			blob []byte
		)
		if err := rows.Scan(&m.File, &m.Code, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		m.Score = Cosine(q, decodeVector(blob))
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Chunk splits content into blocks of n lines, dropping blank blocks.
func Chunk(content string, n int) []string {
	if n <= 0 {
		n = defaultChunkLines
	}
	content = strings.TrimSuffix(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	lines := strings.Split(content, "\n")
	var out []string
	for start := 0; start < len(lines); start += n {
		block := strings.Join(lines[start:min(start+n, len(lines))], "\n")
		if strings.TrimSpace(block) == "" {
			continue
		}
		out = append(out, block)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when they differ in
// length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v
}
