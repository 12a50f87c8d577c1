package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/dukerupert/boothsurvey/internal/model"
)

type OTPStore struct {
	db *sql.DB
}

func NewOTPStore(db *sql.DB) *OTPStore {
	return &OTPStore{db: db}
}

func scanOTPChallenge(scanner interface{ Scan(...any) error }) (*model.OTPChallenge, error) {
	var c model.OTPChallenge
	var usedAt sql.NullTime

	err := scanner.Scan(
		&c.ID, &c.Handle, &c.Phone, &c.Code,
		&c.ExpiresAt, &usedAt, &c.Attempts, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if usedAt.Valid {
		c.UsedAt = &usedAt.Time
	}
	return &c, nil
}

const otpCols = `id, handle, phone, code, expires_at, used_at, attempts, created_at`

// generateCode returns a 6-digit numeric code (100000–999999).
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func generateHandle() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate handle: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Create issues a new challenge for phone with the given lifetime.
// Any previous pending challenges for the same phone are invalidated first.
func (s *OTPStore) Create(phone string, ttl time.Duration) (*model.OTPChallenge, error) {
	now := time.Now().UTC()

	_, err := s.db.Exec(
		`UPDATE otp_challenges SET used_at = ? WHERE phone = ? AND used_at IS NULL AND expires_at > ?`,
		now, phone, now,
	)
	if err != nil {
		return nil, fmt.Errorf("invalidate previous challenges: %w", err)
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	handle, err := generateHandle()
	if err != nil {
		return nil, err
	}

	result, err := s.db.Exec(
		`INSERT INTO otp_challenges (handle, phone, code, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		handle, phone, code, now.Add(ttl), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert otp challenge: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+otpCols+` FROM otp_challenges WHERE id = ?`, id)
	return scanOTPChallenge(row)
}

// GetPending returns the unexpired, unused challenge for handle, or nil.
func (s *OTPStore) GetPending(handle string) (*model.OTPChallenge, error) {
	row := s.db.QueryRow(
		`SELECT `+otpCols+` FROM otp_challenges WHERE handle = ? AND expires_at > ? AND used_at IS NULL`,
		handle, time.Now().UTC(),
	)
	c, err := scanOTPChallenge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending otp challenge: %w", err)
	}
	return c, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *OTPStore) IncrementAttempts(id int64) (int, error) {
	var attempts int
	err := s.db.QueryRow(
		`UPDATE otp_challenges SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

func (s *OTPStore) MarkUsed(id int64) error {
	_, err := s.db.Exec(
		`UPDATE otp_challenges SET used_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark otp challenge used: %w", err)
	}
	return nil
}

func (s *OTPStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM otp_challenges WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired otp challenges: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
