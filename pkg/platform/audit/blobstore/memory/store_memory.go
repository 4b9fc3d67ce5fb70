package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Object is a stored blob.
type Object struct {
	Bucket string
	Key    string
	Body   []byte
}

// InMemoryStore keeps uploaded objects in a map. It backs local runs without
// S3 and doubles as a recording fake in tests: FailNext makes the following
// writes fail without storing anything.
type InMemoryStore struct {
	mu       sync.RWMutex
	objects  map[string]Object
	puts     int
	failures int
	failErr  error
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]Object)}
}

func (s *InMemoryStore) PutObject(ctx context.Context, bucket, key string, body []byte, contentLength int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if int64(len(body)) != contentLength {
		return fmt.Errorf("content length %d does not match body size %d", contentLength, len(body))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return s.failErr
	}
	s.objects[bucket+"/"+key] = Object{
		Bucket: bucket,
		Key:    key,
		Body:   append([]byte(nil), body...),
	}
	return nil
}

// FailNext makes the next n writes return err. A negative n fails every write
// until Clear is called.
func (s *InMemoryStore) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

// Puts returns how many writes were attempted, failed ones included.
func (s *InMemoryStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// Objects returns stored objects ordered by bucket and key.
func (s *InMemoryStore) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Object, 0, len(s.objects))
	for _, obj := range s.objects {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Clear removes all objects and pending failures.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string]Object)
	s.puts = 0
	s.failures = 0
	s.failErr = nil
}
