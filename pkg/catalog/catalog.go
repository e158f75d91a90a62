// Package catalog records completed rename runs in a BadgerDB store.
//
// The catalog is optional bookkeeping: each run is stored keyed by the
// BLAKE2b digest of its output, so reprocessing the same input with the same
// prefix overwrites the previous entry rather than accumulating duplicates.
//
// Key Structure:
//   - Entries: 0x01 + digest -> JSON(Entry)
//
// Example:
//
//	cat, err := catalog.Open("./catalog")
//	if err != nil {
//		return err
//	}
//	defer cat.Close()
//
//	err = cat.Record(&catalog.Entry{
//		Digest: res.Digest,
//		Input:  "TCGA3.onnx",
//		Output: "TCGA3_modified.onnx",
//		Nodes:  res.Nodes,
//	})
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Single-byte key prefix for catalog entries.
const prefixEntry = byte(0x01)

// ErrNotFound is returned by Get when no entry exists for a digest.
var ErrNotFound = errors.New("catalog: entry not found")

// Entry is one recorded rename run.
type Entry struct {
	// Digest is the hex BLAKE2b-256 digest of the written output.
	Digest string `json:"digest"`
	// Input and Output are the model paths of the run.
	Input  string `json:"input"`
	Output string `json:"output"`
	// Prefix used for the generated names.
	Prefix string `json:"prefix"`
	// Nodes renamed in the run.
	Nodes int `json:"nodes"`
	// RenamedAt is when the run completed.
	RenamedAt time.Time `json:"renamed_at"`
}

// Catalog is a Badger-backed store of rename runs.
type Catalog struct {
	db *badger.DB
}

// Open opens (creating if necessary) the catalog at dir.
func Open(dir string) (*Catalog, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying store.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record stores e, overwriting any previous entry with the same digest.
// A zero RenamedAt is filled in with the current time.
func (c *Catalog) Record(e *Entry) error {
	if e.Digest == "" {
		return fmt.Errorf("catalog: entry has no digest")
	}
	if e.RenamedAt.IsZero() {
		e.RenamedAt = time.Now().UTC()
	}
	val, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(e.Digest), val)
	})
}

// Get returns the entry recorded for digest, or ErrNotFound.
func (c *Catalog) Get(digest string) (*Entry, error) {
	var e Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(digest))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// List returns all recorded runs, most recent first.
func (c *Catalog) List() ([]*Entry, error) {
	var entries []*Entry
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte{prefixEntry}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			})
			if err != nil {
				return fmt.Errorf("decoding entry: %w", err)
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Newest first; ties break on digest for a deterministic listing.
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].RenamedAt.Equal(entries[j].RenamedAt) {
			return entries[i].RenamedAt.After(entries[j].RenamedAt)
		}
		return entries[i].Digest < entries[j].Digest
	})
	return entries, nil
}

func entryKey(digest string) []byte {
	return append([]byte{prefixEntry}, digest...)
}
