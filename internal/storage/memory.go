package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

func offlineCursor(uid string, ts int64, messageID string) string {
	return fmt.Sprintf("%s:%020d:%s", uid, ts, messageID)
}

// MemoryStore implements Store with an in-memory append-only log and a
// sorted offline index per uid.
type MemoryStore struct {
	logger *zap.Logger

	mu      sync.RWMutex
	log     []*MessageRecord
	offline map[string][]*offlineEntry // uid -> entries sorted by cursor
}

type offlineEntry struct {
	cursor string
	rec    *MessageRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:  logger.Named("storage.memory"),
		offline: make(map[string][]*offlineEntry),
	}
}

// Append implements Store.Append.
func (s *MemoryStore) Append(rec *MessageRecord) error {
	s.mu.Lock()
	s.log = append(s.log, rec)
	s.mu.Unlock()
	return nil
}

// SaveOffline implements Store.SaveOffline.
func (s *MemoryStore) SaveOffline(rec *MessageRecord) error {
	entry := &offlineEntry{cursor: rec.OfflineCursor(), rec: rec}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.offline[rec.ToUID]
	i := sort.Search(len(list), func(i int) bool { return list[i].cursor >= entry.cursor })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = entry
	s.offline[rec.ToUID] = list
	return nil
}

// PullOffline implements Store.PullOffline.
func (s *MemoryStore) PullOffline(uid, cursor string, limit int) ([]*MessageRecord, string, error) {
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.offline[uid]
	start := 0
	if cursor != "" {
		start = sort.Search(len(list), func(i int) bool { return list[i].cursor > cursor })
	}
	end := start + limit
	if end > len(list) {
		end = len(list)
	}
	out := make([]*MessageRecord, 0, end-start)
	for _, e := range list[start:end] {
		out = append(out, e.rec)
	}
	next := ""
	if end < len(list) && end > start {
		next = list[end-1].cursor
	}
	return out, next, nil
}

// AckOffline implements Store.AckOffline.
func (s *MemoryStore) AckOffline(uid string, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	acked := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		acked[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.offline[uid]
	kept := list[:0]
	removed := 0
	for _, e := range list {
		if _, ok := acked[e.rec.MessageID]; ok {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.offline[uid] = kept
	return removed, nil
}

// CountOffline implements Store.CountOffline.
func (s *MemoryStore) CountOffline(uid string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.offline[uid]), nil
}

// EnforceOfflineQuota implements Store.EnforceOfflineQuota.
func (s *MemoryStore) EnforceOfflineQuota(uid string, maxCount, batch int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.offline[uid]
	over := len(list) - maxCount
	if over <= 0 {
		return 0, nil
	}
	if batch > 0 && over > batch {
		over = batch
	}
	s.offline[uid] = list[over:]
	s.logger.Debug("trimmed offline backlog",
		zap.String("uid", uid),
		zap.Int("removed", over))
	return over, nil
}

// History implements Store.History.
func (s *MemoryStore) History(uid, roomID string, before int64, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*MessageRecord, 0, limit)
	for i := len(s.log) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.log[i]
		if before > 0 && rec.Timestamp >= before {
			continue
		}
		if roomID != "" && rec.RoomID != roomID {
			continue
		}
		if uid != "" && rec.FromUID != uid && rec.ToUID != uid {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Len implements Store.Len.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.log)
}

// ParseCursor splits an offline cursor back into its parts; it returns
// false when the cursor is malformed.
func ParseCursor(cursor string) (uid string, messageID string, ok bool) {
	parts := strings.SplitN(cursor, ":", 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return parts[0], parts[2], true
}
