package filterchain

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/pvmonitor/pvdash/internal/logging"
)

// Manager owns the sessions of the HTTP API. Sessions idle for longer than
// the TTL are closed and forgotten.
type Manager struct {
	sessions *ttlcache.Cache[string, *Chain]
	resolver Resolver
	opts     Options
	logger   *logging.Logger
}

// NewManager starts the expiry loop; call Close to stop it.
func NewManager(r Resolver, opts Options, ttl time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Global()
	}
	m := &Manager{
		sessions: ttlcache.New(ttlcache.WithTTL[string, *Chain](ttl)),
		resolver: r,
		opts:     opts,
		logger:   logger.Component("filterchain"),
	}
	m.sessions.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Chain]) {
		if reason == ttlcache.EvictionReasonExpired {
			m.logger.Debug("Session expired", "session_id", item.Key())
		}
		item.Value().Close()
	})
	go m.sessions.Start()
	return m
}

// Create opens a session on bucket.
func (m *Manager) Create(bucket string) *Chain {
	c := New(bucket, m.resolver, m.opts, m.logger)
	m.sessions.Set(c.ID(), c, ttlcache.DefaultTTL)
	return c
}

// Get returns a session and extends its lifetime.
func (m *Manager) Get(id string) (*Chain, bool) {
	item := m.sessions.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Delete closes a session. It reports whether the session existed.
func (m *Manager) Delete(id string) bool {
	_, ok := m.sessions.GetAndDelete(id)
	return ok
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// Close stops the expiry loop and closes every session.
func (m *Manager) Close() {
	m.sessions.Stop()
	m.sessions.DeleteAll()
}
