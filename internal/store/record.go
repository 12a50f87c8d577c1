package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/google/uuid"
)

// RecordFilter narrows a household record query. Empty fields are ignored.
// BoothNumber matches the submitting user's booth; HouseholdBooth matches the
// booth the household reported.
type RecordFilter struct {
	BoothNumber    string
	HouseholdBooth string
	UserID         string
	Since          *time.Time
}

func (f RecordFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.BoothNumber != "" {
		clauses = append(clauses, "booth_number = ?")
		args = append(args, f.BoothNumber)
	}
	if f.HouseholdBooth != "" {
		clauses = append(clauses, "booth_number_field = ?")
		args = append(args, f.HouseholdBooth)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Since != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type RecordStore struct {
	db *sql.DB
}

func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

func scanRecord(scanner interface{ Scan(...any) error }) (*model.HouseholdRecord, error) {
	var r model.HouseholdRecord
	var createdAt sql.NullTime
	err := scanner.Scan(
		&r.ID, &createdAt, &r.HouseholdName, &r.PhoneNumber, &r.Issues,
		&r.BoothNumber, &r.BoothNumberField, &r.AreaRegion,
		&r.UserID, &r.UserName, &r.UserPhone,
	)
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		t := createdAt.Time.UTC()
		r.CreatedAt = &t
	}
	return &r, nil
}

const recordCols = `id, created_at, household_name, phone_number, issues, booth_number, booth_number_field, area_region, user_id, user_name, user_phone`

const insertRecord = `INSERT INTO households (` + recordCols + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func recordArgs(r *model.HouseholdRecord) []any {
	var createdAt any
	if r.CreatedAt != nil {
		createdAt = r.CreatedAt.UTC()
	}
	return []any{
		r.ID, createdAt, r.HouseholdName, r.PhoneNumber, r.Issues,
		r.BoothNumber, r.BoothNumberField, r.AreaRegion,
		r.UserID, r.UserName, r.UserPhone,
	}
}

// Create inserts a new submission. The id and server timestamp are assigned here.
func (s *RecordStore) Create(r model.HouseholdRecord) (*model.HouseholdRecord, error) {
	r.ID = uuid.NewString()
	now := time.Now().UTC()
	r.CreatedAt = &now

	if _, err := s.db.Exec(insertRecord, recordArgs(&r)...); err != nil {
		return nil, fmt.Errorf("insert household record: %w", err)
	}
	return &r, nil
}

func (s *RecordStore) GetByID(id string) (*model.HouseholdRecord, error) {
	row := s.db.QueryRow(`SELECT `+recordCols+` FROM households WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household record: %w", err)
	}
	return r, nil
}

// List returns matching records, newest first. Records without a timestamp sort last.
func (s *RecordStore) List(f RecordFilter) ([]model.HouseholdRecord, error) {
	where, args := f.where()
	rows, err := s.db.Query(
		`SELECT `+recordCols+` FROM households`+where+` ORDER BY created_at IS NULL, created_at DESC, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list household records: %w", err)
	}
	defer rows.Close()

	var records []model.HouseholdRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan household record: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func (s *RecordStore) Count(f RecordFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM households`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count household records: %w", err)
	}
	return n, nil
}

// DistinctBooths returns the non-empty agent booths and household-reported
// booths present in the data, each sorted.
func (s *RecordStore) DistinctBooths() (agent []string, household []string, err error) {
	agent, err = s.distinct("booth_number")
	if err != nil {
		return nil, nil, err
	}
	household, err = s.distinct("booth_number_field")
	if err != nil {
		return nil, nil, err
	}
	return agent, household, nil
}

func (s *RecordStore) distinct(col string) ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT ` + col + ` FROM households WHERE ` + col + ` != '' ORDER BY ` + col)
	if err != nil {
		return nil, fmt.Errorf("distinct %s: %w", col, err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", col, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Import inserts decoded legacy records in one transaction. Records without an
// id get a fresh one; records whose id already exists are skipped. It returns
// the number of rows inserted.
func (s *RecordStore) Import(records []model.HouseholdRecord) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertRecord + ` ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range records {
		r := records[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		res, err := stmt.Exec(recordArgs(&r)...)
		if err != nil {
			return 0, fmt.Errorf("import record %d: %w", i, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return inserted, nil
}
