// Package store is the durable key/value layer behind the local repositories.
// Backends: in-process memory, SQLite, MySQL, Redis and S3-compatible object
// storage. Keys are namespaced so several installs can share one backend.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been written or was deleted.
var ErrNotFound = errors.New("store: key not found")

// Store persists opaque values by key. Implementations are safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Namespaced prefixes every key with "<ns>:" before delegating.
type Namespaced struct {
	ns    string
	inner Store
}

func WithNamespace(ns string, inner Store) Store {
	ns = strings.Trim(ns, ":")
	if ns == "" {
		return inner
	}
	return &Namespaced{ns: ns, inner: inner}
}

func (n *Namespaced) key(k string) string { return n.ns + ":" + k }

func (n *Namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.inner.Get(ctx, n.key(key))
}

func (n *Namespaced) Set(ctx context.Context, key string, value []byte) error {
	return n.inner.Set(ctx, n.key(key), value)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.key(key))
}

func (n *Namespaced) Close() error { return n.inner.Close() }
