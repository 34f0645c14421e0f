package stt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// InitParams identifies a backend client. Two InitParams with the same Mode
// and CacheKey describe the same client.
type InitParams struct {
	Mode Mode

	// APIKey authenticates remote modes.
	APIKey string

	// Model is the on-device model path for ModeLocal, or the remote model
	// identifier otherwise.
	Model string

	// Language is the default language hint passed to new clients.
	Language string
}

// cacheKey captures the identity of a client for reuse decisions.
func (p InitParams) cacheKey() string {
	return fmt.Sprintf("%s|%s|%s", p.Mode, p.APIKey, p.Model)
}

// Factory constructs a backend client for one mode.
type Factory func(ctx context.Context, p InitParams) (Backend, error)

// Registry holds one client per engine and applies the reuse rules: the
// on-device model is reloaded only when the requested model differs from the
// loaded one, while remote clients are reconstructed fresh on every mode
// activation.
//
// A Registry is written only while a session is being set up and read only
// from that same session's worker; the one-active-session invariant makes it
// safe without locks.
type Registry struct {
	factories map[Mode]Factory
	clients   map[Mode]cachedClient
}

type cachedClient struct {
	backend Backend
	key     string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[Mode]Factory),
		clients:   make(map[Mode]cachedClient),
	}
}

// Register installs the factory for a mode, replacing any previous one.
func (r *Registry) Register(mode Mode, f Factory) {
	r.factories[mode] = f
}

// Initialize returns a ready client for p.Mode, constructing one when needed.
// For ModeLocal an existing client with an identical cache key is reused;
// remote modes always get a fresh client. A replaced client that implements
// io.Closer is closed.
func (r *Registry) Initialize(ctx context.Context, p InitParams) (Backend, error) {
	if !p.Mode.IsValid() {
		return nil, fmt.Errorf("stt: unsupported mode %q", p.Mode)
	}
	f, ok := r.factories[p.Mode]
	if !ok {
		return nil, fmt.Errorf("stt: no factory registered for mode %q", p.Mode)
	}

	key := p.cacheKey()
	if cached, ok := r.clients[p.Mode]; ok {
		if p.Mode == ModeLocal && cached.key == key {
			slog.Info("reusing loaded model", "mode", p.Mode, "model", p.Model)
			return cached.backend, nil
		}
		r.closeClient(p.Mode, cached)
	}

	backend, err := f(ctx, p)
	if err != nil {
		delete(r.clients, p.Mode)
		return nil, fmt.Errorf("stt: initialise %s backend: %w", p.Mode, err)
	}
	r.clients[p.Mode] = cachedClient{backend: backend, key: key}
	slog.Info("backend initialised", "mode", p.Mode, "model", p.Model)
	return backend, nil
}

// Close releases every cached client.
func (r *Registry) Close() {
	for mode, cached := range r.clients {
		r.closeClient(mode, cached)
	}
	clear(r.clients)
}

func (r *Registry) closeClient(mode Mode, c cachedClient) {
	if closer, ok := c.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("closing backend client failed", "mode", mode, "error", err)
		}
	}
	delete(r.clients, mode)
}
