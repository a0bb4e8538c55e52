package chainvault

import (
	"fmt"
	"sync"
)

// ChainRegistry opens and caches chains by ChainKey so a mesh server or CLI
// frontend does not re-replay a chain's log on every request. Not part of
// the spec's component design directly, but implied by §4.G ("remote
// chains use a pipe") and §6 ("a chain key is derived from a domain
// string") needing a place to resolve one consistently.
type ChainRegistry struct {
	mu       sync.Mutex
	dir      string
	cfg      Config
	pipeline *Pipeline
	session  *Session
	rootKey  PublicKey

	chains map[string]*Chain
}

// NewChainRegistry constructs a registry rooted at dir, opening every chain
// with the same pipeline/session/root key.
func NewChainRegistry(dir string, cfg Config, pipeline *Pipeline, session *Session, rootKey PublicKey) *ChainRegistry {
	return &ChainRegistry{
		dir:      dir,
		cfg:      cfg,
		pipeline: pipeline,
		session:  session,
		rootKey:  rootKey,
		chains:   make(map[string]*Chain),
	}
}

// Open returns the chain for key, opening (and replaying) it on first use.
func (r *ChainRegistry) Open(key ChainKey) (*Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := key.String()
	if c, ok := r.chains[id]; ok {
		return c, nil
	}
	c, err := OpenChain(r.dir, key, r.cfg, r.pipeline, r.session, r.rootKey)
	if err != nil {
		return nil, fmt.Errorf("registry open %s: %w", id, err)
	}
	r.chains[id] = c
	return c, nil
}

// CloseAll closes every chain the registry has opened.
func (r *ChainRegistry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for id, c := range r.chains {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.chains, id)
	}
	return firstErr
}
