/*
This file is part of Kubernetes Node Cycler.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/EnterpriseDB/kube-node-cycler/pkg/fileutils"
	"github.com/EnterpriseDB/kube-node-cycler/pkg/log"
)

// Store is an append-only, file-backed log of snapshots keyed by
// capture timestamp, plus the single mutable NowKey entry. Every write
// rewrites the whole file through an atomic rename; writes are
// infrequent enough that this is cheaper than a real log format.
type Store struct {
	path    string
	entries []Snapshot
}

// NewStore opens the store at the given path, loading the existing
// entries. A missing or empty file yields an empty store.
func NewStore(path string) (*Store, error) {
	store := &Store{path: path}

	content, err := fileutils.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("while opening snapshot store %v: %w", path, err)
	}
	if len(content) == 0 {
		return store, nil
	}

	if err := json.Unmarshal(content, &store.entries); err != nil {
		return nil, fmt.Errorf("while decoding snapshot store %v: %w", path, err)
	}
	return store, nil
}

// Take appends the given capture under a fresh timestamp key and
// replaces the NowKey entry with the same content, returning the fresh
// key
func (s *Store) Take(snap Snapshot) (string, error) {
	key := snap.CapturedAt.UTC().Format(time.RFC3339Nano)
	snap.Key = key

	now := snap
	now.Key = NowKey

	entries := make([]Snapshot, 0, len(s.entries)+2)
	for _, entry := range s.entries {
		if entry.Key != NowKey {
			entries = append(entries, entry)
		}
	}
	entries = append(entries, snap, now)

	if err := s.persist(entries); err != nil {
		return "", err
	}
	s.entries = entries

	log.Debug("Captured snapshot", "key", key, "path", s.path)
	return key, nil
}

// Get returns the snapshot stored under the given key
func (s *Store) Get(key string) (Snapshot, error) {
	for _, entry := range s.entries {
		if entry.Key == key {
			return entry, nil
		}
	}
	return Snapshot{}, fmt.Errorf("no snapshot with key %v in %v", key, s.path)
}

// First returns the oldest timestamped snapshot of the store
func (s *Store) First() (Snapshot, error) {
	for _, entry := range s.entries {
		if entry.Key != NowKey {
			return entry, nil
		}
	}
	return Snapshot{}, fmt.Errorf("snapshot store %v is empty", s.path)
}

// Len returns the number of entries, the NowKey one included
func (s *Store) Len() int {
	return len(s.entries)
}

// Keys returns the keys of every entry in storage order
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for _, entry := range s.entries {
		keys = append(keys, entry.Key)
	}
	return keys
}

func (s *Store) persist(entries []Snapshot) error {
	content, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("while encoding snapshot store: %w", err)
	}
	if err := fileutils.WriteFileAtomic(s.path, content, 0o600); err != nil {
		return fmt.Errorf("while writing snapshot store %v: %w", s.path, err)
	}
	return nil
}
