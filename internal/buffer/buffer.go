// Package buffer implements the MatchedEventsBuffer: an in-memory map
// keyed by BufferKey with a size-based spill policy (spec §4.G).
package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/panther-labs/panther/internal/engine"
	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/sink"
)

// MaxBytesInMemory bounds the buffer's in-memory footprint before a spill
// is triggered (spec MAX_BYTES_IN_MEMORY).
const MaxBytesInMemory = 100_000_000

type entry struct {
	matches     []engine.Result
	sizeInBytes int
}

// Options configure a Buffer.
type Options struct {
	Sink             *sink.Sink
	Logger           *slog.Logger
	MaxBytesInMemory int
}

// Buffer accumulates EngineResults keyed by (rule_id, log_type, dedup) and
// spills the largest group through the Sink whenever the configured byte
// budget is exceeded.
type Buffer struct {
	sink     *sink.Sink
	logger   *slog.Logger
	maxBytes int

	mu            sync.Mutex
	entries       map[model.BufferKey]*entry
	bytesInMemory int
}

// New constructs a Buffer.
func New(opts Options) *Buffer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxBytesInMemory
	if maxBytes <= 0 {
		maxBytes = MaxBytesInMemory
	}
	return &Buffer{
		sink:     opts.Sink,
		logger:   logger,
		maxBytes: maxBytes,
		entries:  make(map[model.BufferKey]*entry),
	}
}

// AddEvent appends result under its BufferKey and updates the byte
// counter (spec §4.G add_event). When the budget is exceeded, it spills
// the BufferKey with the largest accumulated size before returning.
func (b *Buffer) AddEvent(ctx context.Context, result engine.Result) error {
	key := model.BufferKey{RuleID: result.RuleID, LogType: result.LogType, Dedup: result.Dedup}
	size := estimateSize(result)

	b.mu.Lock()
	e, ok := b.entries[key]
	if !ok {
		e = &entry{}
		b.entries[key] = e
	}
	e.matches = append(e.matches, result)
	e.sizeInBytes += size
	b.bytesInMemory += size

	var spillKey model.BufferKey
	var spillEntry *entry
	if b.bytesInMemory > b.maxBytes {
		spillKey, spillEntry = b.largestLocked()
	}
	b.mu.Unlock()

	if spillEntry == nil {
		return nil
	}
	return b.spillLocked(ctx, spillKey, spillEntry)
}

// largestLocked returns the BufferKey with the largest accumulated size.
// Callers must hold b.mu.
func (b *Buffer) largestLocked() (model.BufferKey, *entry) {
	var bestKey model.BufferKey
	var best *entry
	for k, e := range b.entries {
		if best == nil || e.sizeInBytes > best.sizeInBytes {
			bestKey, best = k, e
		}
	}
	return bestKey, best
}

// spillLocked removes key from the map (so its bytes are excluded from
// the running counter before the write begins, per spec §4.G step 5) and
// writes it through the Sink.
func (b *Buffer) spillLocked(ctx context.Context, key model.BufferKey, e *entry) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.bytesInMemory -= e.sizeInBytes
	b.mu.Unlock()

	meta := metaFrom(e.matches)
	if err := b.sink.Write(ctx, time.Now(), key, e.matches, meta); err != nil {
		b.logger.ErrorContext(ctx, "sink write failed", "rule_id", key.RuleID, "log_type", key.LogType, "err", err)
		return err
	}
	return nil
}

// Flush spills every buffered key and resets the counters (spec §4.G
// flush()). Spills across distinct keys run concurrently, per spec §5's
// allowance to parallelize merger and sink calls across BufferKeys.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	keys := make([]model.BufferKey, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		group.Go(func() error {
			b.mu.Lock()
			e, ok := b.entries[key]
			b.mu.Unlock()
			if !ok {
				return nil
			}
			return b.spillLocked(groupCtx, key, e)
		})
	}
	return group.Wait()
}

// BytesInMemory reports the current coarse byte estimate across all keys.
func (b *Buffer) BytesInMemory() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesInMemory
}

func metaFrom(matches []engine.Result) sink.BatchMeta {
	var meta sink.BatchMeta
	for _, m := range matches {
		if meta.Severity == "" {
			meta.Severity = m.Severity
		}
		if meta.RuleVersion == "" {
			meta.RuleVersion = m.RuleVersion
		}
		if meta.Title == "" && m.Title != nil {
			meta.Title = *m.Title
		}
	}
	return meta
}

// estimateSize is a coarse per-result byte estimate: the sum of the
// shallow sizes of the result's own fields and its event's fields. This
// is approximate by design (spec §9 Open Questions: "byte accounting
// uses shallow size estimates").
func estimateSize(result engine.Result) int {
	size := len(result.RuleID) + len(result.RuleVersion) + len(result.LogType) + len(result.Dedup)
	if result.Title != nil {
		size += len(*result.Title)
	}
	if result.ErrorMessage != nil {
		size += len(*result.ErrorMessage)
	}
	return size + estimateEventSize(result.Event)
}

func estimateEventSize(view *eventview.View) int {
	if view == nil {
		return 0
	}
	size := 0
	for k, v := range view.Raw() {
		size += len(k) + estimateValueSize(v)
	}
	return size
}

func estimateValueSize(v any) int {
	switch t := v.(type) {
	case string:
		return len(t)
	case []byte:
		return len(t)
	case map[string]any:
		size := 0
		for k, vv := range t {
			size += len(k) + estimateValueSize(vv)
		}
		return size
	case []any:
		size := 0
		for _, vv := range t {
			size += estimateValueSize(vv)
		}
		return size
	default:
		return 8
	}
}
