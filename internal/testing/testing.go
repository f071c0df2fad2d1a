// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"sync"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
	requests []*http.Request
	mu       sync.Mutex
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.response != nil && m.response.Request == nil {
		m.response.Request = req
	}
	return m.response, m.err
}

// Requests returns every request seen so far.
func (m *MockRoundTripper) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// FailingBackend is an in-memory key/value backend whose operations can be made to fail.
type FailingBackend struct {
	mu        sync.Mutex
	items     map[string]string
	GetErr    error
	PutErr    error
	DeleteErr error
}

func NewFailingBackend() *FailingBackend {
	return &FailingBackend{items: map[string]string{}}
}

func (b *FailingBackend) Get(_ context.Context, keys ...string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GetErr != nil {
		return nil, b.GetErr
	}
	out := map[string]string{}
	for _, k := range keys {
		if v, ok := b.items[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (b *FailingBackend) Put(_ context.Context, values map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.PutErr != nil {
		return b.PutErr
	}
	maps.Copy(b.items, values)
	return nil
}

func (b *FailingBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DeleteErr != nil {
		return b.DeleteErr
	}
	for _, k := range keys {
		delete(b.items, k)
	}
	return nil
}

// Set writes directly, bypassing PutErr.
func (b *FailingBackend) Set(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[key] = value
}

// Items copies the current contents.
func (b *FailingBackend) Items() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return maps.Clone(b.items)
}

// FailPuts makes later Put calls return err. Pass nil to recover.
func (b *FailingBackend) FailPuts(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PutErr = err
}

// FailDeletes makes later Delete calls return err. Pass nil to recover.
func (b *FailingBackend) FailDeletes(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DeleteErr = err
}

// FakeAuthorizer counts Authorize calls and runs OnAuthorize, if set, before returning Err.
type FakeAuthorizer struct {
	mu          sync.Mutex
	calls       int
	Err         error
	OnAuthorize func()
}

func (a *FakeAuthorizer) Authorize(ctx context.Context) error {
	a.mu.Lock()
	a.calls++
	fn := a.OnAuthorize
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
	return a.Err
}

func (a *FakeAuthorizer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
