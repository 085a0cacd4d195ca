package objectstore

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Uploader stores bytes under a key and returns a publicly resolvable URL.
// Uploading to an existing key overwrites it.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// StorageError marks a failed write to the object store.
type StorageError struct {
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("object store: put %q: %v", e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

var safeExt = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// Key is the collision free base of an object name: "{unixMillis}-{randomId}".
type Key string

// NewKey mints a fresh key. Keys are never reused between attempts.
func NewKey(now time.Time) Key {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return Key(fmt.Sprintf("%d-%s", now.UnixMilli(), id))
}

// Original returns the object name of the uploaded file. The lowercased
// extension of the client supplied filename is kept only when it is short
// and alphanumeric, so the name is always URL safe.
func (k Key) Original(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if !safeExt.MatchString(ext) {
		return string(k)
	}
	return string(k) + "." + ext
}

// Thumbnail returns the object name of the derived thumbnail.
func (k Key) Thumbnail(ext string) string {
	return fmt.Sprintf("%s-thumb.%s", k, strings.TrimPrefix(ext, "."))
}

// MemoryStore keeps objects in process memory. Used for local runs and tests.
type MemoryStore struct {
	BaseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

type Object struct {
	Data        []byte
	ContentType string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{BaseURL: strings.TrimSuffix(baseURL, "/"), objects: make(map[string]Object)}
}

func (m *MemoryStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StorageError{Key: key, Err: err}
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[key] = Object{Data: buf, ContentType: contentType}
	m.mu.Unlock()

	return m.BaseURL + "/" + key, nil
}

func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
