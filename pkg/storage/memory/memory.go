// Package memory is an in-process ObjectStore used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/careflow/careflow-api/pkg/storage"
)

type object struct {
	data        []byte
	contentType string
}

// Store keeps objects in a map. Failure hooks let tests force a Put or
// Delete to fail.
type Store struct {
	mu      sync.Mutex
	objects map[string]object
	failPut func(key string) error
	failDel func(key string) error
	baseURL string
	deletes int
}

func NewStore() *Store {
	return &Store{objects: make(map[string]object), baseURL: "memory://objects/"}
}

var _ storage.ObjectStore = (*Store)(nil)

func (s *Store) FailPut(fn func(key string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = fn
}

func (s *Store) FailDelete(fn func(key string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDel = fn
}

func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		if err := s.failPut(key); err != nil {
			return "", err
		}
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = object{data: buf, contentType: contentType}
	return key, nil
}

func (s *Store) PresignedGet(ctx context.Context, key string, ttl time.Duration) (storage.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return storage.Link{}, storage.ErrObjectNotFound
	}
	return storage.Link{
		URL:       fmt.Sprintf("%s%s?expires=%d", s.baseURL, key, int(ttl.Seconds())),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}, nil
}

// Delete is idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDel != nil {
		if err := s.failDel(key); err != nil {
			return err
		}
	}
	s.deletes++
	delete(s.objects, key)
	return nil
}

func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *Store) Deletes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletes
}
