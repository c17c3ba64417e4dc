package storage

import (
	"context"
	"strings"
)

// Namespace returns a Backend that prefixes every key with root + "/".
// An empty root returns b unchanged.
func Namespace(b Backend, root string) Backend {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return b
	}
	return &namespaced{inner: b, prefix: root + "/"}
}

type namespaced struct {
	inner  Backend
	prefix string
}

func (n *namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Put(ctx context.Context, key, value string) error {
	return n.inner.Put(ctx, n.prefix+key, value)
}

func (n *namespaced) Increment(ctx context.Context, key string, initial int64) (int64, error) {
	return n.inner.Increment(ctx, n.prefix+key, initial)
}
