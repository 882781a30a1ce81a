package notifier

import (
	"context"
	"sync"
)

// PublishCall records one invocation against a FakePublisher.
type PublishCall struct {
	TopicARN string
	Body     []byte
	Attrs    map[string]string
}

// FakePublisher is an in-memory Publisher for unit tests.
type FakePublisher struct {
	mu    sync.Mutex
	Calls []PublishCall
	Err   error
}

// Publish records the call, or returns Err when set.
func (f *FakePublisher) Publish(_ context.Context, topicARN string, body []byte, attrs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Calls = append(f.Calls, PublishCall{TopicARN: topicARN, Body: body, Attrs: attrs})
	return nil
}

var _ Publisher = (*FakePublisher)(nil)
