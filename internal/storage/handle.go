package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

type HandleOptions struct {
	Path   string
	Policy SchemaPolicy
	Logger *slog.Logger

	// open is swapped in tests to observe or fail schema preparation.
	open func(path string, policy SchemaPolicy) (*Store, error)
}

// Handle lazily opens the store on first use and hands the same *Store to
// every caller afterwards. Concurrent first calls share a single open; a
// failed open is not cached.
type Handle struct {
	path   string
	policy SchemaPolicy
	logger *slog.Logger
	open   func(path string, policy SchemaPolicy) (*Store, error)

	group singleflight.Group

	mu    sync.Mutex
	store *Store
}

func NewHandle(opts HandleOptions) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy == "" {
		policy = SchemaPolicyMigrate
	}
	open := opts.open
	if open == nil {
		open = Open
	}
	return &Handle{
		path:   opts.Path,
		policy: policy,
		logger: logger,
		open:   open,
	}
}

func (h *Handle) Open(ctx context.Context) (*Store, error) {
	if h == nil {
		return nil, fmt.Errorf("open storage handle: handle is nil")
	}
	if store := h.cached(); store != nil {
		return store, nil
	}

	ch := h.group.DoChan("open", func() (any, error) {
		if store := h.cached(); store != nil {
			return store, nil
		}
		if h.policy == SchemaPolicyReset {
			h.logger.Warn("resetting local schema; stored records will be dropped", "path", h.path)
		}
		store, err := h.open(h.path, h.policy)
		if err != nil {
			h.logger.Error("storage open failed", "path", h.path, "error", err)
			return nil, err
		}

		h.mu.Lock()
		h.store = store
		// A reset happens once per process; later reopens after Close keep data.
		h.policy = SchemaPolicyMigrate
		h.mu.Unlock()

		version, _ := store.SchemaVersion()
		h.logger.Info("storage ready", "path", h.path, "schema_version", version)
		return store, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("open storage handle: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Store), nil
	}
}

func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	store := h.store
	h.store = nil
	h.mu.Unlock()
	return store.Close()
}

func (h *Handle) Path() string {
	if h == nil {
		return ""
	}
	return h.path
}

func (h *Handle) cached() *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store
}
