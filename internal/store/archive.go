package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/boothsurvey/internal/model"
)

type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

const archiveCols = `id, filename, s3_key, record_count, size_bytes, status, error_message, completed_at, created_at`

func scanArchive(scanner interface{ Scan(...any) error }) (*model.Archive, error) {
	var a model.Archive
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := scanner.Scan(&a.ID, &a.Filename, &a.S3Key, &a.RecordCount, &a.SizeBytes, &a.Status, &errMsg, &completedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.ErrorMessage = errMsg.String
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return &a, nil
}

func (s *ArchiveStore) Create(filename, s3Key string) (*model.Archive, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO archives (filename, s3_key, status, created_at) VALUES (?, ?, ?, ?)`,
		filename, s3Key, model.ArchiveStatusPending, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &model.Archive{
		ID:        id,
		Filename:  filename,
		S3Key:     s3Key,
		Status:    model.ArchiveStatusPending,
		CreatedAt: now,
	}, nil
}

func (s *ArchiveStore) GetByID(id int64) (*model.Archive, error) {
	row := s.db.QueryRow(`SELECT `+archiveCols+` FROM archives WHERE id = ?`, id)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive %d: %w", id, err)
	}
	return a, nil
}

func (s *ArchiveStore) List(limit int) ([]model.Archive, error) {
	rows, err := s.db.Query(
		`SELECT `+archiveCols+` FROM archives ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var archives []model.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

func (s *ArchiveStore) UpdateStatus(id int64, status model.ArchiveStatus, errMsg string) error {
	var msg sql.NullString
	if errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}
	_, err := s.db.Exec(`UPDATE archives SET status = ?, error_message = ? WHERE id = ?`, status, msg, id)
	if err != nil {
		return fmt.Errorf("update archive status: %w", err)
	}
	return nil
}

func (s *ArchiveStore) UpdateCompleted(id int64, sizeBytes int64, recordCount int) error {
	_, err := s.db.Exec(
		`UPDATE archives SET status = ?, size_bytes = ?, record_count = ?, completed_at = ? WHERE id = ?`,
		model.ArchiveStatusCompleted, sizeBytes, recordCount, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update archive completed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes archive rows created before cutoff and returns
// their object keys so the caller can delete the stored files.
func (s *ArchiveStore) DeleteOlderThan(cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(`DELETE FROM archives WHERE created_at < ? RETURNING s3_key`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("delete old archives: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan archive key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
