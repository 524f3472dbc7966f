package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/go-digitaltwin/go-entity"
)

// LRU is an in-process Store keeping a bounded number of records, evicting the
// least recently used ones first.
type LRU struct {
	c *lru.Cache[Key, entity.Record]
}

// NewLRU returns an LRU holding at most size records. It panics if size is not
// positive.
func NewLRU(size int) *LRU {
	c, err := lru.New[Key, entity.Record](size)
	if err != nil {
		panic("cache: " + err.Error())
	}
	return &LRU{c: c}
}

func (s *LRU) Get(_ context.Context, key Key) (entity.Record, error) {
	r, ok := s.c.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return r.Clone(), nil
}

func (s *LRU) Set(_ context.Context, key Key, record entity.Record) error {
	s.c.Add(key, record.Clone())
	return nil
}

func (s *LRU) Delete(_ context.Context, key Key) error {
	s.c.Remove(key)
	return nil
}

// Len returns the number of cached records.
func (s *LRU) Len() int { return s.c.Len() }
