// Package badger persists resolved identities in an embedded BadgerDB
// key-value store, implementing identity.Cache.
//
// Records are written through by the identity resolver and read back
// with a caller-supplied staleness budget. Concurrent writers are
// tolerated; the last write wins.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/rapportd/rapport/pkg/identity"
)

// Key namespaces. Identity records live under their SID; the name key
// is an alias pointing at the SID so both lookup shapes hit the same
// record.
//
//	sid:<sid>                 -> identity.CachedRecord (JSON)
//	name:<domain>\<username>  -> sid (bytes), lowercased
const (
	prefixSID  = "sid:"
	prefixName = "name:"
)

func keySID(sidStr string) []byte {
	return []byte(prefixSID + sidStr)
}

func keyName(username, domain string) []byte {
	return []byte(prefixName + strings.ToLower(domain) + `\` + strings.ToLower(username))
}

// Store is a BadgerDB-backed identity cache.
type Store struct {
	db *badgerdb.DB

	now func() time.Time
}

// Open opens (creating if needed) the identity cache at path.
func Open(path string) (*Store, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open identity cache at %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetBySID fetches a cached record by SID. Returns (nil, nil) when the
// record is absent or older than maxAge; maxAge <= 0 disables the
// staleness check.
func (s *Store) GetBySID(ctx context.Context, sidStr string, maxAge time.Duration) (*identity.CachedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *identity.CachedRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		rec, err = getRecord(txn, keySID(sidStr))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("identity cache get %s: %w", sidStr, err)
	}
	return s.filterStale(rec, maxAge), nil
}

// GetByName fetches a cached record through the username+domain alias.
// Same absence and staleness semantics as GetBySID.
func (s *Store) GetByName(ctx context.Context, username, domain string, maxAge time.Duration) (*identity.CachedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec *identity.CachedRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(keyName(username, domain))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var sidStr string
		if err := item.Value(func(val []byte) error {
			sidStr = string(val)
			return nil
		}); err != nil {
			return err
		}

		rec, err = getRecord(txn, keySID(sidStr))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("identity cache get %s\\%s: %w", domain, username, err)
	}
	return s.filterStale(rec, maxAge), nil
}

// Put upserts an identity record, stamping RefreshedAt with the write
// time. Both the SID key and the name alias are updated atomically.
func (s *Store) Put(ctx context.Context, id *identity.UserIdentity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := identity.CachedRecord{Identity: *id, RefreshedAt: s.now().UTC()}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode identity record %s: %w", id.SID, err)
	}

	err = s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keySID(id.SID), data); err != nil {
			return err
		}
		return txn.Set(keyName(id.Username, id.Domain), []byte(id.SID))
	})
	if err != nil {
		return fmt.Errorf("identity cache put %s: %w", id.SID, err)
	}
	return nil
}

func getRecord(txn *badgerdb.Txn, key []byte) (*identity.CachedRecord, error) {
	item, err := txn.Get(key)
	if err == badgerdb.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec identity.CachedRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) filterStale(rec *identity.CachedRecord, maxAge time.Duration) *identity.CachedRecord {
	if rec == nil || rec.Stale(s.now(), maxAge) {
		return nil
	}
	return rec
}
