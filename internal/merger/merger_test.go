package merger

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, period time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStoreWithPeriod(client, nil, period), mr
}

func TestPartitionKey_IsStableMD5OfRuleAndDedup(t *testing.T) {
	a := PartitionKey("rule-1", "dedup-a")
	b := PartitionKey("rule-1", "dedup-a")
	c := PartitionKey("rule-1", "dedup-b")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestNewRedisStoreWithPeriod_FallsBackToDefaultWhenNonPositive(t *testing.T) {
	store, _ := newTestRedisStore(t, 0)
	assert.Equal(t, MergePeriod, store.mergePeriod)
}

func TestRedisStore_FirstMatchCreatesAlertWithCountOne(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)

	now := time.Now().UTC()
	info, err := store.UpdateAlert(t.Context(), Request{
		Time: now, NumMatches: 1, RuleID: "r1", Dedup: "d1", LogType: "aws.cloudtrail", Severity: "HIGH",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, info.AlertID)
	assert.Equal(t, "1", mr.HGet(PartitionKey("r1", "d1"), "alertCount"))
	assert.WithinDuration(t, now, info.AlertCreationTime, time.Second)
}

func TestRedisStore_SecondMatchWithinWindowMergesIntoSameAlert(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)

	base := time.Now().UTC()
	first, err := store.UpdateAlert(t.Context(), Request{Time: base, NumMatches: 1, RuleID: "r1", Dedup: "d1", LogType: "x"})
	require.NoError(t, err)

	second, err := store.UpdateAlert(t.Context(), Request{Time: base.Add(time.Minute), NumMatches: 2, RuleID: "r1", Dedup: "d1", LogType: "x"})
	require.NoError(t, err)

	assert.Equal(t, first.AlertID, second.AlertID)
	assert.Equal(t, first.AlertCreationTime, second.AlertCreationTime)
	assert.True(t, second.AlertUpdateTime.After(first.AlertUpdateTime))
}

func TestRedisStore_MatchAfterMergeWindowStartsNewAlert(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Minute)

	base := time.Now().UTC()
	first, err := store.UpdateAlert(t.Context(), Request{Time: base, NumMatches: 1, RuleID: "r1", Dedup: "d1", LogType: "x"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	second, err := store.UpdateAlert(t.Context(), Request{Time: base.Add(2 * time.Minute), NumMatches: 1, RuleID: "r1", Dedup: "d1", LogType: "x"})
	require.NoError(t, err)

	assert.NotEqual(t, first.AlertID, second.AlertID)
}

func TestRedisStore_DistinctDedupKeysProduceIndependentAlerts(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)

	now := time.Now().UTC()
	a, err := store.UpdateAlert(t.Context(), Request{Time: now, NumMatches: 1, RuleID: "r1", Dedup: "d1", LogType: "x"})
	require.NoError(t, err)
	b, err := store.UpdateAlert(t.Context(), Request{Time: now, NumMatches: 1, RuleID: "r1", Dedup: "d2", LogType: "x"})
	require.NoError(t, err)

	assert.NotEqual(t, a.AlertID, b.AlertID)
}

func TestRedisStore_UpdateAlertErrorsWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client, nil)

	_, err := store.UpdateAlert(t.Context(), Request{Time: time.Now(), RuleID: "r1", Dedup: "d1"})
	require.Error(t, err)
}
