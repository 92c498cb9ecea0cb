// Package session holds the single most recent upload and analysis result.
//
// Nothing is persisted: both slots live in the cache for a bounded TTL and are
// replaced by the next upload or analysis. A new upload invalidates the
// previous analysis so results always describe the current upload.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
)

var (
	ErrNoUpload   = errors.New("no upload available")
	ErrNoAnalysis = errors.New("no analysis available")

	// ErrUploadReplaced is returned when a result is saved for an upload that
	// is no longer the current one.
	ErrUploadReplaced = errors.New("upload was replaced")
)

const (
	keyUpload        = "session:upload"
	keyAnalysis      = "session:analysis"
	keyAnalysisSeq   = "session:analysis_seq"
	keyAnalysisCount = "session:analysis_count"
)

// DefaultTTL bounds how long an upload or result is kept.
const DefaultTTL = 24 * time.Hour

// Store is the single-slot session store. Values are serialised on every
// write so callers always receive their own copies.
type Store struct {
	mu    sync.Mutex
	cache domain.Cache
	ttl   time.Duration
}

// NewStore creates a session store on top of the given cache.
func NewStore(cache domain.Cache, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{cache: cache, ttl: ttl}
}

// SaveUpload replaces the current upload and drops any previous analysis.
func (s *Store) SaveUpload(ctx context.Context, upload *domain.Upload) error {
	if upload == nil {
		return fmt.Errorf("upload is required")
	}

	data, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("failed to encode upload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Set(ctx, keyUpload, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}
	if err := s.cache.Delete(ctx, keyAnalysis); err != nil {
		return fmt.Errorf("failed to drop stale analysis: %w", err)
	}
	return nil
}

// LatestUpload returns a copy of the current upload.
func (s *Store) LatestUpload(ctx context.Context) (*domain.Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var upload domain.Upload
	if err := s.load(ctx, keyUpload, &upload); err != nil {
		if errors.Is(err, errMissing) {
			return nil, ErrNoUpload
		}
		return nil, err
	}
	return &upload, nil
}

// SaveAnalysis replaces the current analysis result and bumps the analysis
// counter. The summary must belong to the current upload; a summary computed
// for an upload that has since been replaced or cleared is rejected with
// ErrUploadReplaced and the session is left unchanged.
func (s *Store) SaveAnalysis(ctx context.Context, summary *domain.DatasetSummary) error {
	if summary == nil {
		return fmt.Errorf("summary is required")
	}

	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current domain.Upload
	if err := s.load(ctx, keyUpload, &current); err != nil {
		if errors.Is(err, errMissing) {
			return fmt.Errorf("%w: %s is gone", ErrUploadReplaced, summary.UploadID)
		}
		return err
	}
	if current.ID != summary.UploadID {
		return fmt.Errorf("%w: result for %s, current is %s", ErrUploadReplaced, summary.UploadID, current.ID)
	}

	if err := s.cache.Set(ctx, keyAnalysis, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store analysis: %w", err)
	}

	n, err := s.cache.IncrementCounter(ctx, keyAnalysisSeq, 0)
	if err != nil {
		return fmt.Errorf("failed to count analysis: %w", err)
	}
	return s.cache.Set(ctx, keyAnalysisCount, []byte(strconv.FormatInt(n, 10)), 0)
}

// LatestAnalysis returns a copy of the current analysis result.
func (s *Store) LatestAnalysis(ctx context.Context) (*domain.DatasetSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var summary domain.DatasetSummary
	if err := s.load(ctx, keyAnalysis, &summary); err != nil {
		if errors.Is(err, errMissing) {
			return nil, ErrNoAnalysis
		}
		return nil, err
	}
	return &summary, nil
}

// Clear drops the current upload and analysis. The analysis counter is kept.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{keyUpload, keyAnalysis} {
		if err := s.cache.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}

// Status reports what the session currently holds.
func (s *Store) Status(ctx context.Context) (domain.AnalysisStatus, error) {
	var status domain.AnalysisStatus

	upload, err := s.LatestUpload(ctx)
	switch {
	case err == nil:
		status.HasUpload = true
		status.UploadID = upload.ID
		status.UploadedAt = &upload.CreatedAt
		status.EventCount = len(upload.Events)
	case !errors.Is(err, ErrNoUpload):
		return status, err
	}

	summary, err := s.LatestAnalysis(ctx)
	switch {
	case err == nil:
		status.HasAnalysis = true
		status.AnalysisID = summary.AnalysisID
		status.AnalyzedAt = &summary.CreatedAt
		status.SuspiciousCount = summary.SuspiciousCount
	case !errors.Is(err, ErrNoAnalysis):
		return status, err
	}

	raw, err := s.cache.Get(ctx, keyAnalysisCount)
	if err != nil {
		return status, fmt.Errorf("failed to read analysis count: %w", err)
	}
	if raw != nil {
		status.AnalysisCount, _ = strconv.ParseInt(string(raw), 10, 64)
	}

	return status, nil
}

var errMissing = errors.New("missing")

func (s *Store) load(ctx context.Context, key string, v any) error {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if data == nil {
		return errMissing
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}
