// Package storage persists orders, positions, and their state indexes in a
// single JSON file with atomic writes.
package storage

import "errors"

// ErrNotInIndex is returned by MoveIndex when the member is missing from the
// source index, which usually means a state transition raced or replayed.
var ErrNotInIndex = errors.New("member not in source index")

// ErrInvalidTransition is returned by the position repositories when a state
// change is requested from a state it is not valid from. Callers log it and
// continue; it never mutates the indexes.
var ErrInvalidTransition = errors.New("invalid state transition")

// Interface is the persistence contract. Values are JSON-encoded blobs under
// string keys; sets and sorted sets back the position state indexes and the
// per-side sell order sequences.
type Interface interface {
	// Get unmarshals the value at key into dest. The bool reports presence.
	Get(key string, dest interface{}) (bool, error)
	// Set marshals v and stores it at key.
	Set(key string, v interface{}) error
	// Delete removes a value key. Missing keys are not an error.
	Delete(key string) error
	// Keys returns all value keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)

	// SAdd adds a member to a set.
	SAdd(key, member string) error
	// SRem removes a member from a set. Missing members are not an error.
	SRem(key, member string) error
	// SMembers returns the members of a set, sorted.
	SMembers(key string) ([]string, error)
	// SIsMember reports set membership.
	SIsMember(key, member string) (bool, error)

	// ZAdd adds a member with a score, overwriting the score if present.
	ZAdd(key string, score float64, member string) error
	// ZRem removes a member from a sorted set.
	ZRem(key, member string) error
	// ZRange returns members ordered by ascending score, ties by member.
	ZRange(key string) ([]string, error)

	// MoveIndex atomically removes member from the set at from and adds it
	// to the set at to. Returns ErrNotInIndex if member is not in from, and
	// in that case makes no change.
	MoveIndex(member, from, to string) error
}
