package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"
)

// TextKind identifies which corpus a text record belongs to
type TextKind string

const (
	// KindString is a string literal body, keyed by string address
	KindString TextKind = "string"
	// KindDecomp is a decompiled function body, keyed by function entry
	KindDecomp TextKind = "decomp"
)

// minTrigramLength is the shortest needle the trigram tokenizer can match
const minTrigramLength = 3

// ErrUnindexable is returned for needles the trigram index cannot answer;
// callers fall back to a linear scan.
var ErrUnindexable = errors.New("needle cannot use the trigram index")

// TextRecord is one document in the text index
type TextRecord struct {
	Kind    TextKind
	Address uint64
	Body    string
}

// TextIndex is an FTS5 trigram index answering case-insensitive substring
// lookups. It returns candidate addresses only; callers re-check matches
// against the snapshot records.
type TextIndex struct {
	db     *DB
	logger *slog.Logger
}

// NewTextIndex creates a text index on db
func NewTextIndex(db *DB) *TextIndex {
	return &TextIndex{db: db, logger: db.logger}
}

// BuildTextIndex opens an in-memory database and loads records into it
func BuildTextIndex(ctx context.Context, logger *slog.Logger, records []TextRecord) (*TextIndex, error) {
	db, err := OpenMemory(logger)
	if err != nil {
		return nil, err
	}
	ix := NewTextIndex(db)
	if err := ix.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := ix.BulkInsert(ctx, records); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

// Close releases the underlying database
func (ix *TextIndex) Close() error {
	return ix.db.Close()
}

// InitSchema creates the content table and its external-content FTS5 table
func (ix *TextIndex) InitSchema(ctx context.Context) error {
	conn := ix.db.Conn()

	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS text_content (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			address INTEGER NOT NULL,
			body TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create text_content table: %w", err)
	}

	if _, err := conn.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_text_content_kind ON text_content(kind)"); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	_, err = conn.ExecContext(ctx, `
		CREATE VIRTUAL TABLE IF NOT EXISTS text_fts USING fts5(
			body,
			content='text_content',
			content_rowid='rowid',
			tokenize='trigram'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create text_fts table: %w", err)
	}
	return nil
}

// BulkInsert replaces the index content with records and rebuilds the FTS table
func (ix *TextIndex) BulkInsert(ctx context.Context, records []TextRecord) error {
	err := ix.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM text_content"); err != nil {
			return fmt.Errorf("failed to clear content: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO text_content (kind, address, body) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, rec := range records {
			// SQLite integers are signed; addresses round-trip through int64 bits.
			if _, err := stmt.ExecContext(ctx, string(rec.Kind), int64(rec.Address), rec.Body); err != nil {
				return fmt.Errorf("failed to insert %s 0x%x: %w", rec.Kind, rec.Address, err)
			}
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO text_fts(text_fts) VALUES('rebuild')"); err != nil {
			return fmt.Errorf("failed to rebuild FTS: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ix.logger.Debug("text index built", "records", len(records))
	return nil
}

// Indexable reports whether needle can be answered by the trigram index.
// Non-ASCII needles are excluded since SQLite case folding differs from Go's.
func Indexable(needle string) bool {
	if len(needle) < minTrigramLength {
		return false
	}
	for i := 0; i < len(needle); i++ {
		if needle[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Candidates returns the ascending addresses of kind records whose body
// contains needle, ignoring ASCII case.
func (ix *TextIndex) Candidates(ctx context.Context, kind TextKind, needle string) ([]uint64, error) {
	if !Indexable(needle) {
		return nil, ErrUnindexable
	}

	rows, err := ix.db.Conn().QueryContext(ctx, `
		SELECT DISTINCT c.address
		FROM text_fts f
		JOIN text_content c ON f.rowid = c.rowid
		WHERE text_fts MATCH ? AND c.kind = ?
	`, escapeFTS5Phrase(needle), string(kind))
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	defer rows.Close()

	var addrs []uint64
	for rows.Next() {
		var a int64
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, uint64(a))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Sort(addrs)
	return addrs, nil
}

// Count returns the number of indexed records of kind
func (ix *TextIndex) Count(ctx context.Context, kind TextKind) (int, error) {
	var n int
	err := ix.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM text_content WHERE kind = ?", string(kind)).Scan(&n)
	return n, err
}

// escapeFTS5Phrase quotes needle as a single FTS5 phrase
func escapeFTS5Phrase(needle string) string {
	return `"` + strings.ReplaceAll(needle, `"`, `""`) + `"`
}
