package merger

import (
	"context"
	"sync"
	"time"

	"github.com/panther-labs/panther/internal/model"
)

type fakeItem struct {
	alertCount int64
	creation   int64
}

// FakeStore is an in-memory Store implementing the same CAS semantics as
// RedisStore, for unit tests that exercise the merge-window boundary
// without a live Redis instance.
type FakeStore struct {
	mu    sync.Mutex
	items map[string]*fakeItem
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{items: make(map[string]*fakeItem)}
}

// UpdateAlert applies the same conditional create-or-renew-then-merge
// logic as the RedisStore Lua script, single-threaded under a mutex.
func (f *FakeStore) UpdateAlert(_ context.Context, req Request) (model.AlertInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := PartitionKey(req.RuleID, req.Dedup)
	now := req.Time.UTC().Unix()
	mergeWindow := int64(MergePeriod.Seconds())

	item, exists := f.items[key]
	if !exists || item.creation < now-mergeWindow {
		item = &fakeItem{alertCount: itemAlertCount(item) + 1, creation: now}
		f.items[key] = item
	}

	return model.AlertInfo{
		AlertID:           alertID(req.RuleID, item.alertCount, req.Dedup),
		AlertCreationTime: time.Unix(item.creation, 0).UTC(),
		AlertUpdateTime:   req.Time.UTC(),
	}, nil
}

func itemAlertCount(item *fakeItem) int64 {
	if item == nil {
		return 0
	}
	return item.alertCount
}

var _ Store = (*FakeStore)(nil)
