package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// PutCall records one invocation against a FakePutter.
type PutCall struct {
	Bucket string
	Key    string
	Body   []byte
}

// FakePutter is an in-memory Putter for unit tests.
type FakePutter struct {
	mu    sync.Mutex
	Calls []PutCall
	Err   error
}

// Put records the call, or returns Err when set.
func (f *FakePutter) Put(_ context.Context, bucket, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Calls = append(f.Calls, PutCall{Bucket: bucket, Key: key, Body: data})
	return nil
}

// Objects returns the bodies written, keyed by object key.
func (f *FakePutter) Objects() map[string][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(f.Calls))
	for _, c := range f.Calls {
		out[c.Key] = bytes.Clone(c.Body)
	}
	return out
}

var _ Putter = (*FakePutter)(nil)

// FakeGetter is an in-memory Getter for unit tests: it serves whatever
// byte slices are pre-loaded into Objects under bucket/key.
type FakeGetter struct {
	mu      sync.Mutex
	Objects map[string][]byte
	Err     error
}

// objectKey joins bucket and key the same way a real store's flat
// namespace is addressed.
func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put is a convenience seeding method for tests; it is not part of the
// Getter interface.
func (f *FakeGetter) Put(bucket, key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Objects == nil {
		f.Objects = make(map[string][]byte)
	}
	f.Objects[objectKey(bucket, key)] = body
}

// Get returns a reader over the pre-loaded bytes for bucket/key, or Err
// when set.
func (f *FakeGetter) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	body, ok := f.Objects[objectKey(bucket, key)]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

var _ Getter = (*FakeGetter)(nil)
