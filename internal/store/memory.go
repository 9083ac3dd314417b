package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fpang/tryon-pipeline/internal/model"
)

// MemoryStore keeps records in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu           sync.RWMutex
	historyLimit int
	photos       map[string][]*model.SubjectPhoto
	results      map[string][]*ResultRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store retaining historyLimit results per
// user (DefaultHistoryLimit when zero).
func NewMemoryStore(historyLimit int) *MemoryStore {
	return &MemoryStore{
		historyLimit: historyLimit,
		photos:       make(map[string][]*model.SubjectPhoto),
		results:      make(map[string][]*ResultRecord),
	}
}

func (s *MemoryStore) PutSubjectPhoto(_ context.Context, photo *model.SubjectPhoto) error {
	if photo.ID == "" || photo.UserID == "" {
		return fmt.Errorf("subject photo requires id and user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	photos := s.photos[photo.UserID]
	for i, p := range photos {
		if p.ID == photo.ID {
			photos[i] = clonePhoto(photo)
			return nil
		}
	}
	s.photos[photo.UserID] = append(photos, clonePhoto(photo))
	return nil
}

func (s *MemoryStore) GetSubjectPhoto(_ context.Context, userID, photoID string) (*model.SubjectPhoto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.photos[userID] {
		if p.ID == photoID {
			return clonePhoto(p), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) LatestSubjectPhoto(_ context.Context, userID string) (*model.SubjectPhoto, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.SubjectPhoto
	for _, p := range s.photos[userID] {
		if latest == nil || !p.RegisteredAt.Before(latest.RegisteredAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, nil
	}
	return clonePhoto(latest), nil
}

func (s *MemoryStore) PutResult(_ context.Context, result *model.TryOnResult) error {
	if result.ID == "" || result.UserID == "" {
		return fmt.Errorf("result requires id and user id")
	}
	rec := NewResultRecord(result)

	s.mu.Lock()
	defer s.mu.Unlock()

	records := s.results[result.UserID]
	replaced := false
	for i, r := range records {
		if r.ID == rec.ID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}

	sortNewestFirst(records)
	if limit := historyLimit(s.historyLimit); len(records) > limit {
		records = records[:limit]
	}
	s.results[result.UserID] = records
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, userID, resultID string) (*model.TryOnResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.results[userID] {
		if r.ID == resultID {
			return r.Result(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListResults(_ context.Context, userID string, limit int) ([]*model.TryOnResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.results[userID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]*model.TryOnResult, 0, limit)
	for _, r := range records[:limit] {
		out = append(out, r.Result())
	}
	return out, nil
}

// sortNewestFirst orders records by timestamp descending, then id.
func sortNewestFirst(records []*ResultRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].Metadata.Timestamp, records[j].Metadata.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return records[i].ID < records[j].ID
	})
}
