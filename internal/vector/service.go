package vector

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/coccobas/agent-memory/internal/apperr"
	"github.com/coccobas/agent-memory/internal/store"
)

// Service is the vector-index contract from spec.md §4.6: upsert/delete/
// search per entry kind, honoring the scope chain as a post-filter. The
// ANN index itself is a `vec0` virtual table per kind, the same
// `asg017/sqlite-vec-go-bindings` extension GoKitt blank-imports; a
// Compressor is applied before the raw vector is persisted to the
// `vectors` table that vec0 rowids map back to, trading index precision
// for storage (the compressed copy is what import/export and the
// duplicate-refinement maintenance task read back).
type Service struct {
	db         *sql.DB
	dim        int
	compressor Compressor
	tables     map[store.EntryKind]bool
}

// NewService prepares a vector index of dimension dim, one vec0 table per
// entry kind, lazily created on first use of that kind.
func NewService(s *store.Store, dim int, c Compressor) *Service {
	return &Service{db: s.DB(), dim: dim, compressor: c, tables: map[store.EntryKind]bool{}}
}

func vecTableName(kind store.EntryKind) string { return fmt.Sprintf("vec_%s", kind) }

func (s *Service) ensureTable(ctx context.Context, kind store.EntryKind) error {
	if s.tables[kind] {
		return nil
	}
	name := vecTableName(kind)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])`, name, s.dim))
	if err != nil {
		return apperr.New(apperr.CodeVectorError, "create vector index table").Wrap(err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vector_rowids (
			kind TEXT NOT NULL, entry_id TEXT NOT NULL, rowid_ref INTEGER NOT NULL,
			PRIMARY KEY (kind, entry_id)
		)`)
	if err != nil {
		return apperr.New(apperr.CodeVectorError, "create vector rowid map").Wrap(err)
	}
	s.tables[kind] = true
	return nil
}

// Upsert stores vector for (kind, id): the raw float32s go into the vec0
// ANN table; the compressed form goes into the `vectors` table for
// compact persistence.
func (s *Service) Upsert(ctx context.Context, kind store.EntryKind, id string, v []float32) error {
	if len(v) != s.dim {
		return apperr.Newf(apperr.CodeVectorError, "vector dimension %d does not match index dimension %d", len(v), s.dim)
	}
	if err := s.ensureTable(ctx, kind); err != nil {
		return err
	}

	var rowID int64
	err := s.db.QueryRowContext(ctx, `SELECT rowid_ref FROM vector_rowids WHERE kind = ? AND entry_id = ?`, kind, id).Scan(&rowID)
	if err == sql.ErrNoRows {
		res, err2 := s.db.ExecContext(ctx, `INSERT INTO vector_rowids (kind, entry_id, rowid_ref)
			VALUES (?, ?, (SELECT COALESCE(MAX(rowid_ref), 0) + 1 FROM vector_rowids))`, kind, id)
		if err2 != nil {
			return apperr.New(apperr.CodeVectorError, "allocate vector rowid").Wrap(err2)
		}
		rowID, _ = res.LastInsertId()
		err2 = s.db.QueryRowContext(ctx, `SELECT rowid_ref FROM vector_rowids WHERE kind = ? AND entry_id = ?`, kind, id).Scan(&rowID)
		if err2 != nil {
			return apperr.New(apperr.CodeVectorError, "load allocated vector rowid").Wrap(err2)
		}
	} else if err != nil {
		return apperr.New(apperr.CodeVectorError, "lookup vector rowid").Wrap(err)
	}

	blob := encodeFloat32s(v)
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s(rowid, embedding) VALUES (?, ?)
		 ON CONFLICT(rowid) DO UPDATE SET embedding = excluded.embedding`, vecTableName(kind)), rowID, blob)
	if err != nil {
		return apperr.New(apperr.CodeVectorError, "upsert into vector index").Wrap(err)
	}

	if s.compressor != nil {
		c, cerr := s.compressor.Compress(v)
		if cerr == nil {
			_, _ = s.db.ExecContext(ctx, `
				INSERT INTO vectors (kind, entry_id, dim, method, norm, data)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(kind, entry_id) DO UPDATE SET dim=excluded.dim, method=excluded.method, data=excluded.data
			`, kind, id, c.Dim, c.Method, norm(v), c.Data)
		}
	}
	return nil
}

// Delete removes vector(s) for (kind, id) from both the ANN index and the
// compressed-storage table.
func (s *Service) Delete(ctx context.Context, kind store.EntryKind, id string) error {
	if err := s.ensureTable(ctx, kind); err != nil {
		return err
	}
	var rowID int64
	err := s.db.QueryRowContext(ctx, `SELECT rowid_ref FROM vector_rowids WHERE kind = ? AND entry_id = ?`, kind, id).Scan(&rowID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return apperr.New(apperr.CodeVectorError, "lookup vector rowid for delete").Wrap(err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vecTableName(kind)), rowID); err != nil {
		return apperr.New(apperr.CodeVectorError, "delete from vector index").Wrap(err)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM vector_rowids WHERE kind = ? AND entry_id = ?`, kind, id)
	_, _ = s.db.ExecContext(ctx, `DELETE FROM vectors WHERE kind = ? AND entry_id = ?`, kind, id)
	return nil
}

// Hit is one search result: similarity is cosine similarity in [-1, 1],
// reconstructed from the vec0 distance metric (L2 over unit vectors maps
// monotonically to cosine similarity, so rank order is preserved).
type Hit struct {
	ID         string
	Similarity float64
}

// Search returns the topK nearest vectors to v for kind, post-filtered to
// ids present in allowedIDs when non-nil (the scope-chain filter the
// query pipeline computes before calling in).
func (s *Service) Search(ctx context.Context, kind store.EntryKind, v []float32, topK int, allowedIDs map[string]bool) ([]Hit, error) {
	if len(v) != s.dim {
		return nil, apperr.Newf(apperr.CodeVectorError, "vector dimension %d does not match index dimension %d", len(v), s.dim)
	}
	if err := s.ensureTable(ctx, kind); err != nil {
		return nil, err
	}

	// Over-fetch before the scope post-filter so filtered-out hits don't
	// starve the result set.
	fetch := topK * 4
	if fetch < topK {
		fetch = topK
	}
	blob := encodeFloat32s(v)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance`, vecTableName(kind)),
		blob, fetch)
	if err != nil {
		return nil, apperr.New(apperr.CodeVectorError, "ann search").Wrap(err)
	}
	defer rows.Close()

	type rowHit struct {
		rowID    int64
		distance float64
	}
	var raw []rowHit
	for rows.Next() {
		var rh rowHit
		if err := rows.Scan(&rh.rowID, &rh.distance); err != nil {
			return nil, apperr.New(apperr.CodeVectorError, "scan ann result").Wrap(err)
		}
		raw = append(raw, rh)
	}

	out := make([]Hit, 0, len(raw))
	for _, rh := range raw {
		var id string
		if err := s.db.QueryRowContext(ctx, `SELECT entry_id FROM vector_rowids WHERE kind = ? AND rowid_ref = ?`, kind, rh.rowID).Scan(&id); err != nil {
			continue
		}
		if allowedIDs != nil && !allowedIDs[id] {
			continue
		}
		// vec0's default metric is L2; convert to a cosine-similarity-like
		// score assuming unit-normalized inputs: sim = 1 - d^2/2.
		sim := 1 - rh.distance*rh.distance/2
		out = append(out, Hit{ID: id, Similarity: sim})
		if len(out) >= topK {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		putFloat32(buf[i*4:], x)
	}
	return buf
}

// StoredVector returns the decompressed vector persisted for (kind, id),
// used by the duplicateRefinement maintenance task to recompute embedding
// similarity without re-calling the embedding provider. Returns
// VECTOR_ERROR for compressors that don't support decompression (sparse
// random projection).
func (s *Service) StoredVector(ctx context.Context, kind store.EntryKind, id string) ([]float32, error) {
	var dim int
	var method string
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT dim, method, data FROM vectors WHERE kind = ? AND entry_id = ?`, kind, id).
		Scan(&dim, &method, &data)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("vector", id)
	}
	if err != nil {
		return nil, apperr.New(apperr.CodeVectorError, "load stored vector").Wrap(err)
	}
	if s.compressor == nil || s.compressor.Method() != method {
		return nil, apperr.New(apperr.CodeVectorError, "no matching compressor configured for stored method "+method)
	}
	c := Compressed{Method: method, Dim: dim, Data: data}
	if sq, ok := s.compressor.(*ScalarQuantizer); ok {
		c.Min, c.Max = sq.Min, sq.Max
	}
	return s.compressor.Decompress(c)
}

func norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return 0
	}
	return math.Sqrt(sumSq)
}
