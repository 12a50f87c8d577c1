// Package archive uploads encrypted CSV snapshots of all household records
// to S3-compatible storage, on a daily schedule or on demand.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dukerupert/boothsurvey/internal/export"
	"github.com/dukerupert/boothsurvey/internal/model"
	"github.com/dukerupert/boothsurvey/internal/store"
)

var (
	ErrDisabled = errors.New("archive not configured")
	ErrNotFound = errors.New("archive not found")
	ErrRunning  = errors.New("archive already in progress")
)

// s3Client is the subset of the S3 API the manager uses.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3            S3Config
	Passphrase    string
	Hour          int
	RetentionDays int
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State       State      `json:"state"`
	LastArchive *time.Time `json:"last_archive,omitempty"`
	Error       string     `json:"error,omitempty"`
	InProgress  bool       `json:"in_progress"`
}

// StatusCallback is called whenever the manager's state changes.
type StatusCallback func(Status)

type Manager struct {
	cfg       Config
	archives  *store.ArchiveStore
	records   *store.RecordStore
	formatter *export.Formatter
	client    s3Client
	callback  StatusCallback
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	status  Status
	lastRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewManager(cfg Config, as *store.ArchiveStore, rs *store.RecordStore, f *export.Formatter, callback StatusCallback, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		archives:  as,
		records:   rs,
		formatter: f,
		callback:  callback,
		logger:    logger.With("component", "archive"),
		now:       time.Now,
		status:    Status{State: StateDisabled},
	}
	if cfg.S3.configured() && cfg.Passphrase != "" {
		m.client = newS3Client(cfg.S3)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether storage and a passphrase are configured.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Start runs the daily schedule until ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil || m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

// due reports whether the scheduled archive should run at now: the
// configured hour in the export timezone, once per day.
func (m *Manager) due(now time.Time) bool {
	local := m.formatter.In(now)
	if local.Hour() != m.cfg.Hour {
		return false
	}
	m.mu.RLock()
	last := m.lastRun
	m.mu.RUnlock()
	if last.IsZero() {
		return true
	}
	ly, lm, ld := m.formatter.In(last).Date()
	y, mo, d := local.Date()
	return ly != y || lm != mo || ld != d
}

func (m *Manager) checkSchedule(ctx context.Context) {
	now := m.now()
	if !m.due(now) {
		return
	}
	m.mu.Lock()
	m.lastRun = now
	m.mu.Unlock()

	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("scheduled archive failed", "error", err)
	}
	if err := m.Cleanup(ctx); err != nil {
		m.logger.Error("archive cleanup failed", "error", err)
	}
}

// RunNow exports every record, encrypts the CSV and uploads it. It returns
// the archive row id.
func (m *Manager) RunNow(ctx context.Context) (int64, error) {
	if m.client == nil {
		return 0, ErrDisabled
	}

	m.mu.Lock()
	if m.status.InProgress {
		m.mu.Unlock()
		return 0, ErrRunning
	}
	m.status = Status{State: StateRunning, InProgress: true, LastArchive: m.status.LastArchive}
	status := m.status
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(status)
	}

	id, err := m.run(ctx)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error(), LastArchive: status.LastArchive})
		return id, err
	}
	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastArchive: &now})
	m.logger.Info("archive uploaded", "id", id)
	return id, nil
}

func (m *Manager) run(ctx context.Context) (int64, error) {
	timestamp := m.now().UTC().Format("20060102T150405Z")
	filename := fmt.Sprintf("households-%s.csv.enc", timestamp)
	key := "archives/" + filename

	rec, err := m.archives.Create(filename, key)
	if err != nil {
		return 0, fmt.Errorf("create archive record: %w", err)
	}
	fail := func(err error) (int64, error) {
		if uerr := m.archives.UpdateStatus(rec.ID, model.ArchiveStatusFailed, err.Error()); uerr != nil {
			m.logger.Error("mark archive failed", "id", rec.ID, "error", uerr)
		}
		return rec.ID, err
	}

	if err := m.archives.UpdateStatus(rec.ID, model.ArchiveStatusUploading, ""); err != nil {
		return fail(err)
	}

	records, err := m.records.List(store.RecordFilter{})
	if err != nil {
		return fail(fmt.Errorf("list records: %w", err))
	}

	sealed, err := Encrypt([]byte(m.formatter.CSV(records)), m.cfg.Passphrase)
	if err != nil {
		return fail(fmt.Errorf("encrypt: %w", err))
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return fail(fmt.Errorf("upload to s3: %w", err))
	}

	if err := m.archives.UpdateCompleted(rec.ID, int64(len(sealed)), len(records)); err != nil {
		return fail(fmt.Errorf("mark archive completed: %w", err))
	}
	return rec.ID, nil
}

// Download streams the encrypted object for a completed archive.
func (m *Manager) Download(ctx context.Context, id int64) (io.ReadCloser, *model.Archive, error) {
	if m.client == nil {
		return nil, nil, ErrDisabled
	}

	rec, err := m.archives.GetByID(id)
	if err != nil {
		return nil, nil, fmt.Errorf("get archive: %w", err)
	}
	if rec == nil || rec.Status != model.ArchiveStatusCompleted {
		return nil, nil, ErrNotFound
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(rec.S3Key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("download from s3: %w", err)
	}
	return out.Body, rec, nil
}

// Cleanup deletes archives older than the retention period. Zero keeps
// everything.
func (m *Manager) Cleanup(ctx context.Context) error {
	if m.client == nil || m.cfg.RetentionDays <= 0 {
		return nil
	}

	before := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)
	keys, err := m.archives.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old archives: %w", err)
	}

	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete archive object", "key", key, "error", err)
		}
	}
	return nil
}
