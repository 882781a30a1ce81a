// Package sink implements the matched-events spill target: it calls the
// AlertMerger, gzips one batch per BufferKey, writes it to the object
// store, and publishes a companion notification (spec §4.G steps 1-5).
package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/panther-labs/panther/internal/apperrors"
	"github.com/panther-labs/panther/internal/engine"
	"github.com/panther-labs/panther/internal/merger"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/notifier"
	"github.com/panther-labs/panther/internal/objectstore"
)

// Options configure a Sink.
type Options struct {
	Merger    merger.Store
	Putter    objectstore.Putter
	Publisher notifier.Publisher
	Bucket    string
	Topic     string
}

// Sink writes one gzip batch and notification per BufferKey flushed from
// the MatchedEventsBuffer.
type Sink struct {
	merger    merger.Store
	putter    objectstore.Putter
	publisher notifier.Publisher
	bucket    string
	topic     string
}

// New constructs a Sink.
func New(opts Options) *Sink {
	return &Sink{
		merger:    opts.Merger,
		putter:    opts.Putter,
		publisher: opts.Publisher,
		bucket:    opts.Bucket,
		topic:     opts.Topic,
	}
}

// BatchMeta carries the rule attributes the AlertMerger needs but the
// buffered EngineResults don't individually repeat per spill call.
type BatchMeta struct {
	Severity    string
	RuleVersion string
	Title       string
}

// Write implements the spill protocol of spec §4.G for one BufferKey: it
// updates the alert identity, builds the gzip batch, puts the object, and
// publishes the notification. Either both outbound writes succeed or the
// error is returned to the caller; no partial buffer state is retained
// here since the caller removes the buffer entry before calling Write.
func (s *Sink) Write(ctx context.Context, at time.Time, key model.BufferKey, matches []engine.Result, meta BatchMeta) error {
	numMatches := len(matches)

	alertInfo, err := s.merger.UpdateAlert(ctx, merger.Request{
		Time:        at,
		NumMatches:  numMatches,
		RuleID:      key.RuleID,
		Dedup:       key.Dedup,
		LogType:     key.LogType,
		Severity:    meta.Severity,
		RuleVersion: meta.RuleVersion,
		Title:       meta.Title,
	})
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeSink, "update alert info for rule %s", key.RuleID)
	}

	body, byteCount, err := serializeBatch(matches, key.RuleID, alertInfo)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeSink, "serialize batch for rule %s", key.RuleID)
	}

	objKey := ObjectKey(key.LogType, key.RuleID, at)

	if err := s.putter.Put(ctx, s.bucket, objKey, bytes.NewReader(body), int64(len(body))); err != nil {
		return err
	}

	notification := model.OutputNotification{
		S3Bucket:    s.bucket,
		S3ObjectKey: objKey,
		Events:      numMatches,
		Bytes:       byteCount,
		ID:          key.RuleID,
		Type:        model.NotificationType,
	}
	notifBody, err := json.Marshal(notification)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeSink, "marshal notification for rule %s", key.RuleID)
	}

	attrs := map[string]string{"type": model.NotificationType, "id": key.RuleID}
	if err := s.publisher.Publish(ctx, s.topic, notifBody, attrs); err != nil {
		return err
	}

	return nil
}

// serializeBatch builds a newline-delimited gzip stream, one JSON line
// per match: the event's fields overlaid with the common fields (spec
// §4.G step 2).
func serializeBatch(matches []engine.Result, ruleID string, alertInfo model.AlertInfo) ([]byte, int, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	common := model.EventCommonFields{
		RuleID:            ruleID,
		AlertID:           alertInfo.AlertID,
		AlertCreationTime: formatEventTimestamp(alertInfo.AlertCreationTime),
		AlertUpdateTime:   formatEventTimestamp(alertInfo.AlertUpdateTime),
	}

	for _, m := range matches {
		line := make(map[string]any, len(m.Event.Raw())+4)
		for k, v := range m.Event.Raw() {
			line[k] = v
		}
		line["p_rule_id"] = common.RuleID
		line["p_alert_id"] = common.AlertID
		line["p_alert_creation_time"] = common.AlertCreationTime
		line["p_alert_update_time"] = common.AlertUpdateTime

		encoded, err := json.Marshal(line)
		if err != nil {
			_ = gz.Close()
			return nil, 0, fmt.Errorf("encode event line: %w", err)
		}
		if _, err := gz.Write(encoded); err != nil {
			_ = gz.Close()
			return nil, 0, fmt.Errorf("write gzip line: %w", err)
		}
		if _, err := gz.Write([]byte("\n")); err != nil {
			_ = gz.Close()
			return nil, 0, fmt.Errorf("write gzip newline: %w", err)
		}
	}

	if err := gz.Close(); err != nil {
		return nil, 0, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), buf.Len(), nil
}

// formatEventTimestamp matches the source engine's
// "YYYY-MM-DD HH:MM:SS.ffffff000" convention: microsecond precision padded
// with a literal "000" suffix.
func formatEventTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000") + "000"
}

// ObjectKey builds the spill destination key per spec §4.G step 3:
// rules/{log_type_sanitized}/year=Y/month=M/day=D/hour=H/rule_id={rule_id}/{YYYYMMDDhhmmss}-{uuid4}.gz
func ObjectKey(logType, ruleID string, at time.Time) string {
	t := at.UTC()
	return fmt.Sprintf(
		"rules/%s/year=%d/month=%02d/day=%02d/hour=%02d/rule_id=%s/%s-%s.gz",
		sanitizeLogType(logType),
		t.Year(), t.Month(), t.Day(), t.Hour(),
		sanitizeRuleID(ruleID),
		t.Format("20060102150405"),
		uuid.NewString(),
	)
}

// sanitizeLogType lowercases and replaces "." with "_", per spec §4.G.
func sanitizeLogType(logType string) string {
	return strings.ReplaceAll(strings.ToLower(logType), ".", "_")
}

// sanitizeRuleID restricts a rule id to path-safe characters (alphanumeric,
// space, dash, dot), the same allow-list the source engine uses when it
// turns a rule id into a filesystem path (see SPEC_FULL.md §7).
func sanitizeRuleID(ruleID string) string {
	var b strings.Builder
	for _, r := range ruleID {
		if isAllowedRuleIDChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func isAllowedRuleIDChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '-', r == '.':
		return true
	default:
		return false
	}
}
