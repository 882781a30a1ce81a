// Package merger implements the AlertMerger: a CAS-style update against a
// key-value store that assigns each dedup key an alert identity (spec §4.F).
package merger

import (
	"context"
	"crypto/md5" //nolint:gosec // content-addressed key derivation, not a security boundary
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/model"
)

// MergePeriod is the sliding window within which matches on the same
// dedup key coalesce into one alert (spec ALERT_MERGE_PERIOD_SECONDS).
const MergePeriod = 3600 * time.Second

// Request is the input to one alert-merge update (spec
// update_get_alert_info(time, num_matches, key, severity, version, title)).
type Request struct {
	Time        time.Time
	NumMatches  int
	RuleID      string
	Dedup       string
	LogType     string
	Severity    string
	RuleVersion string
	Title       string // empty means "not provided"
}

// Store is the key-value backend the AlertMerger updates against.
type Store interface {
	UpdateAlert(ctx context.Context, req Request) (model.AlertInfo, error)
}

// PartitionKey derives the store's partition key for a (ruleID, dedup)
// pair: md5(rule_id + ":" + dedup), per spec §4.F. An earlier revision of
// the source engine used raw concatenation for some keys; this module
// follows spec's explicit resolution to use md5 uniformly (see
// SPEC_FULL.md §7).
func PartitionKey(ruleID, dedup string) string {
	sum := md5.Sum([]byte(ruleID + ":" + dedup)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func alertID(ruleID string, alertCount int64, dedup string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%s", ruleID, alertCount, dedup))) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// RedisStore implements Store over Redis. The teacher's CacheRepository
// exposes only a single-key SET-NX-style conditional write
// (internal/data/redis_cache_repo.go's SetIfNotExists); this merger needs
// a true read-modify-write CAS — conditionally create when absent or
// expired, else increment counters on the existing item — which a bare
// SET NX cannot express. That compound operation is executed as a single
// Lua script via EVAL, the same way the teacher reaches for Redis's
// atomic primitives (SetArgs{Mode:"NX"}) rather than a client-side
// read-then-write race.
type RedisStore struct {
	client      redis.UniversalClient
	logger      *slog.Logger
	mergePeriod time.Duration
}

// NewRedisStore constructs a RedisStore using the default MergePeriod.
func NewRedisStore(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return NewRedisStoreWithPeriod(client, logger, MergePeriod)
}

// NewRedisStoreWithPeriod constructs a RedisStore with a caller-supplied
// merge window (spec ALERT_MERGE_PERIOD_SECONDS), falling back to
// MergePeriod when period is non-positive.
func NewRedisStoreWithPeriod(client redis.UniversalClient, logger *slog.Logger, period time.Duration) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	if period <= 0 {
		period = MergePeriod
	}
	return &RedisStore{client: client, logger: logger, mergePeriod: period}
}

// mergeScript implements spec §4.F's two-step sequence atomically:
// conditionally create-or-renew when the item is absent or its
// creation time has aged out of the merge window, otherwise merge into
// the existing item. KEYS[1] is the partition key; a companion
// KEYS[1]+":logtypes" Redis set tracks the logTypes attribute.
const mergeScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local numMatches = tonumber(ARGV[2])
local ruleId = ARGV[3]
local dedup = ARGV[4]
local severity = ARGV[5]
local logType = ARGV[6]
local ruleVersion = ARGV[7]
local title = ARGV[8]
local mergePeriod = tonumber(ARGV[9])

local creation = redis.call('HGET', key, 'alertCreationTime')

if (not creation) or (tonumber(creation) < (now - mergePeriod)) then
    redis.call('HSET', key, 'ruleId', ruleId, 'dedup', dedup,
        'alertCreationTime', now, 'alertUpdateTime', now,
        'eventCount', numMatches, 'severity', severity, 'ruleVersion', ruleVersion)
    redis.call('HINCRBY', key, 'alertCount', 1)
    if title ~= '' then
        redis.call('HSET', key, 'title', title)
    end
else
    redis.call('HSET', key, 'alertUpdateTime', now)
    redis.call('HINCRBY', key, 'eventCount', numMatches)
end

redis.call('SADD', key .. ':logtypes', logType)

local alertCount = redis.call('HGET', key, 'alertCount')
local creationOut = redis.call('HGET', key, 'alertCreationTime')
return {alertCount, creationOut}
`

// UpdateAlert executes the merge script for req and returns the resulting
// alert identity.
func (s *RedisStore) UpdateAlert(ctx context.Context, req Request) (model.AlertInfo, error) {
	key := PartitionKey(req.RuleID, req.Dedup)
	now := req.Time.UTC().Unix()

	raw, err := s.client.Eval(ctx, mergeScript, []string{key},
		now, req.NumMatches, req.RuleID, req.Dedup, req.Severity, req.LogType, req.RuleVersion, req.Title,
		int64(s.mergePeriod.Seconds()),
	).Result()
	if err != nil {
		return model.AlertInfo{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "alert merge CAS failed")
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return model.AlertInfo{}, apperrors.Internal("alert merge CAS: unexpected script result shape")
	}

	alertCount, err := parseInt64(values[0])
	if err != nil {
		return model.AlertInfo{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "parse alertCount")
	}
	creationUnix, err := parseInt64(values[1])
	if err != nil {
		return model.AlertInfo{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "parse alertCreationTime")
	}

	return model.AlertInfo{
		AlertID:           alertID(req.RuleID, alertCount, req.Dedup),
		AlertCreationTime: time.Unix(creationUnix, 0).UTC(),
		AlertUpdateTime:   req.Time.UTC(),
	}, nil
}

func parseInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

var _ Store = (*RedisStore)(nil)
