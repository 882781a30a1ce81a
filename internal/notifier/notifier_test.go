package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakePublisher_RecordsCall(t *testing.T) {
	fake := &FakePublisher{}
	err := fake.Publish(context.Background(), "arn:aws:sns:topic", []byte(`{"id":"1"}`), map[string]string{"type": "RuleOutput"})
	require.NoError(t, err)

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "arn:aws:sns:topic", fake.Calls[0].TopicARN)
	assert.Equal(t, "RuleOutput", fake.Calls[0].Attrs["type"])
}

func TestFakePublisher_ReturnsConfiguredError(t *testing.T) {
	sentinel := errors.New("publish failed")
	fake := &FakePublisher{Err: sentinel}
	err := fake.Publish(context.Background(), "topic", nil, nil)
	assert.ErrorIs(t, err, sentinel)
	assert.Empty(t, fake.Calls)
}

func TestFakePublisher_RecordsMultipleCallsInOrder(t *testing.T) {
	fake := &FakePublisher{}
	require.NoError(t, fake.Publish(context.Background(), "topic", []byte("first"), nil))
	require.NoError(t, fake.Publish(context.Background(), "topic", []byte("second"), nil))

	require.Len(t, fake.Calls, 2)
	assert.Equal(t, []byte("first"), fake.Calls[0].Body)
	assert.Equal(t, []byte("second"), fake.Calls[1].Body)
}
