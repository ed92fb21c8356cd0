// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package headerchain stores headers and the canonical number index in a
// database.Database. Backed by memdb it serves as the in-memory header store,
// backed by badgerdb as the persistent one.
package headerchain

import (
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/rlp"
)

var (
	ErrUnknownParent = errors.New("unknown parent")
	ErrNoGenesis     = errors.New("header chain has no genesis")

	headerPrefix    = []byte("header")
	canonicalPrefix = []byte("canonical")
	headKey         = []byte("head")
)

// Chain is safe for concurrent use.
type Chain struct {
	mu        sync.RWMutex
	db        *versiondb.Database
	headers   database.Database
	canonical database.Database
	head      *types.Header
}

// New opens the chain stored in db, or an empty one.
func New(db database.Database) (*Chain, error) {
	vdb := versiondb.New(db)
	c := &Chain{
		db:        vdb,
		headers:   prefixdb.New(headerPrefix, vdb),
		canonical: prefixdb.New(canonicalPrefix, vdb),
	}
	headHash, err := vdb.Get(headKey)
	if errors.Is(err, database.ErrNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}
	c.head, err = c.getHeader(common.BytesToHash(headHash))
	if err != nil {
		return nil, fmt.Errorf("failed to load head: %w", err)
	}
	return c, nil
}

// Head returns the canonical head, or nil if the chain is empty.
func (c *Chain) Head() *types.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

func (c *Chain) GetHeaderByHash(hash common.Hash) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getHeader(hash)
}

func (c *Chain) GetHeaderByNumber(number uint64) (*types.Header, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, err := c.canonical.Get(database.PackUInt64(number))
	if err != nil {
		return nil, err
	}
	return c.getHeader(common.BytesToHash(hash))
}

func (c *Chain) getHeader(hash common.Hash) (*types.Header, error) {
	b, err := c.headers.Get(hash[:])
	if err != nil {
		return nil, err
	}
	h := &types.Header{}
	if err := rlp.DecodeBytes(b, h); err != nil {
		return nil, err
	}
	return h, nil
}

// Insert stores h. The first header inserted is the genesis; every other
// header needs its parent. A header higher than the current head becomes the
// new head and the canonical index is rewritten back to the common ancestor.
func (c *Chain) Insert(h *types.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newHead, err := c.insert(h)
	if err != nil {
		c.db.Abort()
		return err
	}
	if err := c.db.Commit(); err != nil {
		return err
	}
	if newHead {
		c.head = h
	}
	return nil
}

// insert writes h and reports whether it is the new head.
func (c *Chain) insert(h *types.Header) (bool, error) {
	if c.head == nil && h.Number.Sign() != 0 {
		return false, ErrNoGenesis
	}
	if c.head != nil {
		if _, err := c.getHeader(h.ParentHash); err != nil {
			return false, fmt.Errorf("%w: %s at block %d: %w", ErrUnknownParent, h.ParentHash, h.Number, err)
		}
	}
	b, err := rlp.EncodeToBytes(h)
	if err != nil {
		return false, err
	}
	hash := h.Hash()
	if err := c.headers.Put(hash[:], b); err != nil {
		return false, err
	}
	if c.head != nil && h.Number.Cmp(c.head.Number) <= 0 {
		return false, nil
	}

	// Rewrite the canonical index until it meets the old chain.
	for cur := h; ; {
		key := database.PackUInt64(cur.Number.Uint64())
		curHash := cur.Hash()
		existing, err := c.canonical.Get(key)
		if err == nil && common.BytesToHash(existing) == curHash {
			break
		}
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return false, err
		}
		if err := c.canonical.Put(key, curHash[:]); err != nil {
			return false, err
		}
		if cur.Number.Sign() == 0 {
			break
		}
		if cur, err = c.getHeader(cur.ParentHash); err != nil {
			return false, err
		}
	}
	return true, c.db.Put(headKey, hash[:])
}
