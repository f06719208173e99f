package api

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// pendingSubmission holds an uploaded clip awaiting its confirmation call.
// The audio lives only here until the owner confirms; an unconfirmed upload
// simply expires.
type pendingSubmission struct {
	OwnerID         int64
	Token           string
	DurationSeconds int
	Audio           []byte
	ExpiresAt       time.Time
}

// PendingCache is a short-lived keyed cache of uploads awaiting
// confirmation. Keys are short hashes of the submission token, safe to
// round-trip through a UI callback.
type PendingCache struct {
	mu      sync.Mutex
	entries map[string]*pendingSubmission
	ttl     time.Duration
	done    chan struct{}
}

// NewPendingCache creates the cache and starts its expiry janitor
func NewPendingCache(ttl time.Duration) *PendingCache {
	c := &PendingCache{
		entries: make(map[string]*pendingSubmission),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.janitor()
	return c
}

// PendingID derives the cache key for a submission token
func PendingID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:10]
}

// Put stores a pending submission and returns its id
func (c *PendingCache) Put(sub *pendingSubmission) string {
	id := PendingID(sub.Token)
	sub.ExpiresAt = time.Now().Add(c.ttl)

	c.mu.Lock()
	c.entries[id] = sub
	c.mu.Unlock()
	return id
}

// Take removes and returns the pending submission for the id, if it exists
// and has not expired.
func (c *PendingCache) Take(id string) (*pendingSubmission, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	delete(c.entries, id)
	if time.Now().After(sub.ExpiresAt) {
		return nil, false
	}
	return sub, true
}

// Len returns the number of live entries
func (c *PendingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stop stops the expiry janitor
func (c *PendingCache) Stop() {
	close(c.done)
}

func (c *PendingCache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for id, sub := range c.entries {
				if now.After(sub.ExpiresAt) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
