// Package state manages the persistent resume state of the forwarder:
// the circular message-hash buffer and the per-chat cursor map.
// Both are flat JSON files rewritten in full after every mutation, so the
// durable copy is the source of truth after a crash.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"

	"github.com/blockedby/tg-autoforwarder/internal/logger"
)

// DefaultHashStoreSize is the default circular buffer capacity.
const DefaultHashStoreSize = 1000

// HashStore remembers content hashes of already-forwarded messages in a
// fixed-size circular buffer. Once capacity distinct hashes have been
// inserted after a given hash, that hash is overwritten and its message
// becomes forwardable again. Duplicates only occur within a short window
// (redelivery, overlapping polls), so the bounded buffer is enough.
type HashStore struct {
	mu      sync.Mutex
	hashes  []string
	pointer int
	path    string
	log     *logger.Logger
}

// hashStoreFile is the durable form of the store.
type hashStoreFile struct {
	Hashes  []string `json:"hashes"`
	Pointer int      `json:"pointer"`
}

// NewHashStore loads the store from path, or initializes a fresh buffer of
// the given capacity when the file is missing or unreadable.
func NewHashStore(path string, capacity int) *HashStore {
	if capacity <= 0 {
		capacity = DefaultHashStoreSize
	}

	s := &HashStore{
		hashes: make([]string, capacity),
		path:   path,
		log:    logger.Get(),
	}
	s.load(capacity)
	return s
}

func (s *HashStore) load(capacity int) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error().Err(err).Str("path", s.path).Msg("state: failed to read hash store, starting empty")
		}
		return
	}

	var file hashStoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("state: corrupt hash store file, starting empty")
		return
	}

	// normalize to the configured capacity: the slot count is an invariant,
	// the file may come from a run with a different setting
	if len(file.Hashes) > capacity {
		s.log.Warn().Int("stored", len(file.Hashes)).Int("capacity", capacity).Msg("state: hash store shrunk, truncating")
		file.Hashes = file.Hashes[:capacity]
	}
	for len(file.Hashes) < capacity {
		file.Hashes = append(file.Hashes, "")
	}
	if file.Pointer < 0 || file.Pointer >= capacity {
		file.Pointer = 0
	}

	s.hashes = file.Hashes
	s.pointer = file.Pointer
	s.log.Info().Str("path", s.path).Int("capacity", capacity).Msg("state: loaded hash store")
}

// Contains reports whether hash is currently held in the buffer.
// Empty slots never match: HashText always yields a non-empty digest.
func (s *HashStore) Contains(hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range s.hashes {
		if h != "" && h == hash {
			return true
		}
	}
	return false
}

// Insert writes hash at the current pointer, advances the pointer and
// persists the store. A persistence failure is logged; the in-memory
// mutation stands and disk catches up on the next successful save.
func (s *HashStore) Insert(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hashes[s.pointer] = hash
	s.pointer = (s.pointer + 1) % len(s.hashes)
	s.saveLocked()
}

// Fill returns how many slots currently hold a hash.
func (s *HashStore) Fill() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, h := range s.hashes {
		if h != "" {
			n++
		}
	}
	return n
}

// Capacity returns the slot count.
func (s *HashStore) Capacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hashes)
}

// Flush persists the store, used by the shutdown sequence.
func (s *HashStore) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLocked()
}

func (s *HashStore) saveLocked() {
	data, err := json.Marshal(hashStoreFile{Hashes: s.hashes, Pointer: s.pointer})
	if err != nil {
		s.log.Error().Err(err).Msg("state: failed to marshal hash store")
		return
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		s.log.Error().Err(err).Str("path", s.path).Msg("state: failed to save hash store")
	}
}

// HashText returns the dedup key for a message text: hex-encoded SHA-256 of
// the primary content, empty text included. Dedup is content-based, two
// different messages with identical text collide on purpose.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
