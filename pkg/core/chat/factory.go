package chat

import (
	"sync"
)

// Factory is a credential-versioned client factory. Callers bump the
// credential with SetKey; Get compares versions and rebuilds the client
// on mismatch. This replaces the "lazy client recreated on ambient key
// change" pattern with a narrow, testable seam.
type Factory struct {
	mu      sync.Mutex
	key     string
	version uint64
	built   uint64
	client  *Client
	opts    []Option
}

// NewFactory creates a factory with an initial key and fixed options.
func NewFactory(apiKey string, opts ...Option) *Factory {
	return &Factory{key: apiKey, version: 1, opts: opts}
}

// SetKey swaps the credential. The next Get rebuilds the client.
func (f *Factory) SetKey(apiKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if apiKey == f.key {
		return
	}
	f.key = apiKey
	f.version++
}

// Get returns the current client, rebuilding it if the credential
// changed since the last build.
func (f *Factory) Get() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.client == nil || f.built != f.version {
		f.client = New(f.key, f.opts...)
		f.built = f.version
	}
	return f.client
}
