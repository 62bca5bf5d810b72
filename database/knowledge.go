package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "portfolio-oracle/errors"
	"portfolio-oracle/web/types"
)

const documentColumns = `id, title, description, filename, mime_type, doc_type, active, raw_content, chunk_count, size, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (types.KnowledgeDocument, error) {
	var doc types.KnowledgeDocument
	var docType string
	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &doc.Filename, &doc.MimeType, &docType,
		&doc.Active, &doc.RawContent, &doc.ChunkCount, &doc.Size, &doc.CreatedAt, &doc.UpdatedAt)
	doc.DocType = types.DocType(docType)
	return doc, err
}

// CreateDocumentWithChunks inserts a document and all of its chunks in one
// transaction, so readers never see a document without its chunks.
func (s *PostgresStore) CreateDocumentWithChunks(ctx context.Context, doc *types.KnowledgeDocument, chunks []types.Chunk) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	doc.ChunkCount = len(chunks)

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin document transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO knowledge_documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		doc.ID, doc.Title, doc.Description, doc.Filename, doc.MimeType, string(doc.DocType),
		doc.Active, doc.RawContent, doc.ChunkCount, doc.Size, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	if err := insertChunks(ctx, tx, doc.ID, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceChunks swaps a document's text and chunks atomically.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID uuid.UUID, rawContent string, chunks []types.Chunk) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rechunk transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE knowledge_documents SET raw_content = $2, chunk_count = $3, updated_at = NOW()
		WHERE id = $1`, documentID, rawContent, len(chunks))
	if err != nil {
		return fmt.Errorf("failed to update document content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.WrapErrorf(apperrors.ErrNotFound, "document %s", documentID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := insertChunks(ctx, tx, documentID, chunks); err != nil {
		return err
	}
	return tx.Commit()
}

func insertChunks(ctx context.Context, tx *sql.Tx, documentID uuid.UUID, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, content, chunk_index, start_offset, end_offset, token_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		c := &chunks[i]
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.DocumentID = documentID
		if _, err := stmt.ExecContext(ctx, c.ID, documentID, c.Content, c.ChunkIndex, c.StartOffset, c.EndOffset, c.TokenCount); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return nil
}

// UpdateDocument applies the non-nil fields of patch.
func (s *PostgresStore) UpdateDocument(ctx context.Context, id uuid.UUID, patch types.DocumentPatch) (types.KnowledgeDocument, error) {
	var title, description, docType sql.NullString
	var active sql.NullBool
	if patch.Title != nil {
		title = sql.NullString{String: *patch.Title, Valid: true}
	}
	if patch.Description != nil {
		description = sql.NullString{String: *patch.Description, Valid: true}
	}
	if patch.DocType != nil {
		docType = sql.NullString{String: string(*patch.DocType), Valid: true}
	}
	if patch.Active != nil {
		active = sql.NullBool{Bool: *patch.Active, Valid: true}
	}

	row := s.DB.QueryRowContext(ctx, `
		UPDATE knowledge_documents SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			doc_type = COALESCE($4, doc_type),
			active = COALESCE($5, active),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+documentColumns, id, title, description, docType, active)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.KnowledgeDocument{}, apperrors.WrapErrorf(apperrors.ErrNotFound, "document %s", id)
		}
		return types.KnowledgeDocument{}, fmt.Errorf("failed to update document: %w", err)
	}
	return doc, nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.WrapErrorf(apperrors.ErrNotFound, "document %s", id)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (types.KnowledgeDocument, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM knowledge_documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.KnowledgeDocument{}, apperrors.WrapErrorf(apperrors.ErrNotFound, "document %s", id)
		}
		return types.KnowledgeDocument{}, fmt.Errorf("failed to fetch document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns documents newest first.
func (s *PostgresStore) ListDocuments(ctx context.Context, activeOnly bool) ([]types.KnowledgeDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM knowledge_documents`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []types.KnowledgeDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// ActiveDocuments implements rag.Corpus.
func (s *PostgresStore) ActiveDocuments(ctx context.Context) ([]types.KnowledgeDocument, error) {
	return s.ListDocuments(ctx, true)
}

// ChunksByDocument implements rag.Corpus.
func (s *PostgresStore) ChunksByDocument(ctx context.Context, documentID uuid.UUID) ([]types.Chunk, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, document_id, content, chunk_index, start_offset, end_offset, token_count
		FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex, &c.StartOffset, &c.EndOffset, &c.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
