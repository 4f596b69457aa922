package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func offlineRec(uid string, ts int64, id string) *MessageRecord {
	return &MessageRecord{MessageID: id, ToUID: uid, Content: "c", Timestamp: ts, MsgType: "message"}
}

func TestAppendAndHistory(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	require.NoError(t, s.Append(&MessageRecord{MessageID: "m1", FromUID: "a", ToUID: "b", Timestamp: 10}))
	require.NoError(t, s.Append(&MessageRecord{MessageID: "m2", FromUID: "b", ToUID: "a", Timestamp: 20}))
	require.NoError(t, s.Append(&MessageRecord{MessageID: "m3", FromUID: "c", RoomID: "r1", Timestamp: 30}))
	assert.Equal(t, 3, s.Len())

	// newest first, filtered by uid
	recs, err := s.History("a", "", 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m2", recs[0].MessageID)

	// room filter
	recs, err = s.History("", "r1", 0, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m3", recs[0].MessageID)

	// before filter excludes newer records
	recs, err = s.History("a", "", 20, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].MessageID)
}

func TestOfflinePullOrderAndPagination(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	// insert out of order; pull must come back in cursor order
	require.NoError(t, s.SaveOffline(offlineRec("u1", 30, "m3")))
	require.NoError(t, s.SaveOffline(offlineRec("u1", 10, "m1")))
	require.NoError(t, s.SaveOffline(offlineRec("u1", 20, "m2")))

	recs, next, err := s.PullOffline("u1", "", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "m1", recs[0].MessageID)
	assert.Equal(t, "m2", recs[1].MessageID)
	require.NotEmpty(t, next)

	recs, next, err = s.PullOffline("u1", next, 2)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m3", recs[0].MessageID)
	assert.Empty(t, next)
}

func TestOfflineAckAndCount(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	require.NoError(t, s.SaveOffline(offlineRec("u1", 1, "m1")))
	require.NoError(t, s.SaveOffline(offlineRec("u1", 2, "m2")))

	n, err := s.CountOffline("u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := s.AckOffline("u1", []string{"m1", "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	n, _ = s.CountOffline("u1")
	assert.Equal(t, 1, n)

	// acking again is a no-op
	removed, err = s.AckOffline("u1", []string{"m1"})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestEnforceOfflineQuota(t *testing.T) {
	s := NewMemoryStore(zap.NewNop())
	for i := 0; i < 10; i++ {
		require.NoError(t, s.SaveOffline(offlineRec("u1", int64(i), fmt.Sprintf("m%d", i))))
	}

	removed, err := s.EnforceOfflineQuota("u1", 5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, removed, "batch caps one pass")

	removed, err = s.EnforceOfflineQuota("u1", 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// oldest entries were dropped first
	recs, _, err := s.PullOffline("u1", "", 10)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "m5", recs[0].MessageID)
}

func TestParseCursor(t *testing.T) {
	rec := offlineRec("u1", 42, "m9")
	uid, id, ok := ParseCursor(rec.OfflineCursor())
	require.True(t, ok)
	assert.Equal(t, "u1", uid)
	assert.Equal(t, "m9", id)

	_, _, ok = ParseCursor("garbage")
	assert.False(t, ok)
}
