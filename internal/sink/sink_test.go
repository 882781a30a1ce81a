package sink

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panther-labs/panther/internal/engine"
	"github.com/panther-labs/panther/internal/eventview"
	"github.com/panther-labs/panther/internal/merger"
	"github.com/panther-labs/panther/internal/model"
	"github.com/panther-labs/panther/internal/notifier"
	"github.com/panther-labs/panther/internal/objectstore"
)

func TestSink_WritePutsGzipBatchAndPublishesNotification(t *testing.T) {
	putter := &objectstore.FakePutter{}
	publisher := &notifier.FakePublisher{}
	s := New(Options{
		Merger:    merger.NewFakeStore(),
		Putter:    putter,
		Publisher: publisher,
		Bucket:    "test-bucket",
		Topic:     "arn:aws:sns:topic",
	})

	key := model.BufferKey{RuleID: "my.rule", LogType: "aws.cloudtrail", Dedup: "d1"}
	matches := []engine.Result{
		{RuleID: "my.rule", LogType: "aws.cloudtrail", Dedup: "d1", Event: eventview.New(model.Event{"a": 1}, nil)},
	}

	at := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	err := s.Write(context.Background(), at, key, matches, BatchMeta{Severity: "HIGH", RuleVersion: "v1", Title: "Title"})
	require.NoError(t, err)

	objects := putter.Objects()
	require.Len(t, objects, 1)
	require.Len(t, publisher.Calls, 1)

	var objectKey string
	var body []byte
	for k, v := range objects {
		objectKey = k
		body = v
	}

	assert.Contains(t, objectKey, "rules/aws_cloudtrail/year=2026/month=01/day=15/hour=10/rule_id=my.rule/")
	assert.Contains(t, objectKey, ".gz")

	gz, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	scanner := bufio.NewScanner(gz)
	require.True(t, scanner.Scan())

	var line map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
	assert.Equal(t, "my.rule", line["p_rule_id"])
	assert.NotEmpty(t, line["p_alert_id"])
	assert.EqualValues(t, 1, line["a"])

	assert.Equal(t, "arn:aws:sns:topic", publisher.Calls[0].TopicARN)
	assert.Equal(t, "my.rule", publisher.Calls[0].Attrs["id"])
	assert.Equal(t, model.NotificationType, publisher.Calls[0].Attrs["type"])
}

func TestSink_WritePropagatesMergerError(t *testing.T) {
	failingMerger := failingMergerStore{}
	s := New(Options{
		Merger:    failingMerger,
		Putter:    &objectstore.FakePutter{},
		Publisher: &notifier.FakePublisher{},
		Bucket:    "b",
		Topic:     "t",
	})

	err := s.Write(context.Background(), time.Now(), model.BufferKey{RuleID: "r1"}, nil, BatchMeta{})
	require.Error(t, err)
}

func TestSink_WritePropagatesPutterError(t *testing.T) {
	putter := &objectstore.FakePutter{Err: assertError{}}
	s := New(Options{
		Merger:    merger.NewFakeStore(),
		Putter:    putter,
		Publisher: &notifier.FakePublisher{},
		Bucket:    "b",
		Topic:     "t",
	})

	err := s.Write(context.Background(), time.Now(), model.BufferKey{RuleID: "r1", Dedup: "d1"}, nil, BatchMeta{})
	require.Error(t, err)
}

func TestObjectKey_SanitizesLogTypeAndRuleID(t *testing.T) {
	at := time.Date(2026, 3, 2, 4, 5, 6, 0, time.UTC)
	key := ObjectKey("AWS.CloudTrail", "my/weird:rule", at)
	assert.Contains(t, key, "rules/aws_cloudtrail/")
	assert.NotContains(t, key, ":")
	assert.Contains(t, key, "rule_id=my_weird_rule/")
}

type failingMergerStore struct{}

func (failingMergerStore) UpdateAlert(_ context.Context, _ merger.Request) (model.AlertInfo, error) {
	return model.AlertInfo{}, assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "forced failure" }
