// Clockbridge - Biometric Attendance Device Integration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/clockbridge

// Package cache provides the LRU structure the live capture path uses to
// deduplicate pushed events: a device may re-send an event when its ack is
// lost, and the dedup window absorbs that before the ledger is touched.
package cache

import (
	"sync"
	"time"
)

type lruEntry struct {
	key       string
	seenAt    time.Time
	prev      *lruEntry
	next      *lruEntry
	expiresAt time.Time
}

// LRU is a thread-safe least-recently-used set with TTL expiry. All
// operations are O(1); a doubly-linked list keeps recency order and a map
// gives direct lookup.
type LRU struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*lruEntry
	head  *lruEntry
	tail  *lruEntry
}

// NewLRU creates a cache holding at most capacity keys for at most ttl.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*lruEntry, capacity),
		head:     &lruEntry{},
		tail:     &lruEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Seen reports whether the key was recorded within the TTL and records it
// if not. The check and insert are atomic, so concurrent callers cannot
// both see false for the same key.
func (c *LRU) Seen(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.items[key]; ok {
		if now.Before(entry.expiresAt) {
			c.moveToFront(entry)
			return true
		}
		c.remove(entry)
	}

	entry := &lruEntry{key: key, seenAt: now, expiresAt: now.Add(c.ttl)}
	c.items[key] = entry
	c.pushFront(entry)

	if len(c.items) > c.capacity {
		c.remove(c.tail.prev)
	}
	return false
}

// Contains reports membership without recording the key.
func (c *LRU) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	return ok && time.Now().Before(entry.expiresAt)
}

// Len returns the number of live entries, counting not-yet-evicted
// expired ones.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) pushFront(entry *lruEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *LRU) moveToFront(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.pushFront(entry)
}

func (c *LRU) remove(entry *lruEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}
