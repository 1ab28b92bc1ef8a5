package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the file-backed implementation of Interface. Every mutation
// rewrites the file through a temp-file rename, so a crash mid-write leaves
// the previous snapshot intact.
type Store struct {
	mu       sync.RWMutex
	filepath string
	data     *storeData
}

type zsetEntry struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

type storeData struct {
	Values      map[string]json.RawMessage `json:"values"`
	Sets        map[string][]string        `json:"sets"`
	ZSets       map[string][]zsetEntry     `json:"zsets"`
	LastUpdated time.Time                  `json:"last_updated"`
}

var _ Interface = (*Store)(nil)

// NewStore opens (or creates) the store at filepath.
func NewStore(filepath string) (*Store, error) {
	s := &Store{
		filepath: filepath,
		data: &storeData{
			Values: make(map[string]json.RawMessage),
			Sets:   make(map[string][]string),
			ZSets:  make(map[string][]zsetEntry),
		},
	}

	if _, err := os.Stat(filepath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}

	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.filepath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return err
	}
	if s.data.Values == nil {
		s.data.Values = make(map[string]json.RawMessage)
	}
	if s.data.Sets == nil {
		s.data.Sets = make(map[string][]string)
	}
	if s.data.ZSets == nil {
		s.data.ZSets = make(map[string][]zsetEntry)
	}
	return nil
}

// saveLocked persists the current snapshot. Callers hold the write lock.
func (s *Store) saveLocked() error {
	s.data.LastUpdated = time.Now()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	tmpFile := s.filepath + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.filepath)
}

// Get unmarshals the value at key into dest.
func (s *Store) Get(key string, dest interface{}) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data.Values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decoding value at %s: %w", key, err)
	}
	return true, nil
}

// Set marshals v and stores it at key.
func (s *Store) Set(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value for %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Values[key] = raw
	return s.saveLocked()
}

// Delete removes a value key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Values[key]; !ok {
		return nil
	}
	delete(s.data.Values, key)
	return s.saveLocked()
}

// Keys returns all value keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data.Values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// SAdd adds a member to a set.
func (s *Store) SAdd(key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containsLocked(key, member) {
		return nil
	}
	s.data.Sets[key] = append(s.data.Sets[key], member)
	return s.saveLocked()
}

// SRem removes a member from a set.
func (s *Store) SRem(key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.containsLocked(key, member) {
		return nil
	}
	s.removeLocked(key, member)
	return s.saveLocked()
}

// SMembers returns the members of a set, sorted.
func (s *Store) SMembers(key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := make([]string, len(s.data.Sets[key]))
	copy(members, s.data.Sets[key])
	sort.Strings(members)
	return members, nil
}

// SIsMember reports set membership.
func (s *Store) SIsMember(key, member string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(key, member), nil
}

// ZAdd adds a member with a score, overwriting the score if present.
func (s *Store) ZAdd(key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.data.ZSets[key]
	replaced := false
	for i := range entries {
		if entries[i].Member == member {
			entries[i].Score = score
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, zsetEntry{Member: member, Score: score})
	}
	s.data.ZSets[key] = entries
	return s.saveLocked()
}

// ZRem removes a member from a sorted set.
func (s *Store) ZRem(key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.data.ZSets[key]
	for i := range entries {
		if entries[i].Member == member {
			s.data.ZSets[key] = append(entries[:i], entries[i+1:]...)
			return s.saveLocked()
		}
	}
	return nil
}

// ZRange returns members ordered by ascending score, ties by member.
func (s *Store) ZRange(key string) ([]string, error) {
	s.mu.RLock()
	entries := make([]zsetEntry, len(s.data.ZSets[key]))
	copy(entries, s.data.ZSets[key])
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score < entries[j].Score
		}
		return entries[i].Member < entries[j].Member
	})
	members := make([]string, len(entries))
	for i, e := range entries {
		members[i] = e.Member
	}
	return members, nil
}

// MoveIndex atomically moves a member between two sets under one lock and
// one file write.
func (s *Store) MoveIndex(member, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.containsLocked(from, member) {
		return fmt.Errorf("moving %s from %s to %s: %w", member, from, to, ErrNotInIndex)
	}
	s.removeLocked(from, member)
	if !s.containsLocked(to, member) {
		s.data.Sets[to] = append(s.data.Sets[to], member)
	}
	return s.saveLocked()
}

func (s *Store) containsLocked(key, member string) bool {
	for _, m := range s.data.Sets[key] {
		if m == member {
			return true
		}
	}
	return false
}

func (s *Store) removeLocked(key, member string) {
	members := s.data.Sets[key]
	for i, m := range members {
		if m == member {
			s.data.Sets[key] = append(members[:i], members[i+1:]...)
			return
		}
	}
}
