package cluster

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/cmn/debug"
	"github.com/552020/futura-alpha-icp-sub007/kv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	capsulePrefix = "capsule:"
	subjPrefix    = "subj:"
	ownPrefix     = "own:"
)

func capsuleKey(id cmn.CapsuleId) string  { return capsulePrefix + string(id) }
func subjKey(k cmn.PersonRefKey) string   { return subjPrefix + string(k) }
func ownKey(k cmn.PersonRefKey, id cmn.CapsuleId) string {
	return ownPrefix + string(k) + ":" + string(id)
}

// Order is the pagination sort direction.
type Order int

const (
	Asc Order = iota
	Desc
)

type Page struct {
	Items      []Capsule
	NextCursor *cmn.CapsuleId
}

// Store is the capsule store: sole owner of capsule records
// and their two secondary indexes, all held in the durable substrate.
// Mirrors cluster.Smap/bucketMD pattern of a primary map plus
// derived structures maintained under a single write path.
type Store struct {
	db *kv.DB
}

func NewStore(db *kv.DB) *Store { return &Store{db: db} }

func decodeCapsule(raw string) (*Capsule, error) {
	var c Capsule
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, cmn.WrapInternal(err, "decode capsule")
	}
	return &c, nil
}

func encodeCapsule(c *Capsule) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", cmn.WrapInternal(err, "encode capsule")
	}
	return string(data), nil
}

// Get is a durable read, no locking.
func (s *Store) Get(id cmn.CapsuleId) (*Capsule, error) {
	var c *Capsule
	err := s.db.Raw().View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(capsuleKey(id))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		c, err = decodeCapsule(raw)
		return err
	})
	if err != nil {
		if ce, ok := err.(*cmn.Error); ok {
			return nil, ce
		}
		return nil, cmn.WrapInternal(err, "get capsule")
	}
	return c, nil
}

func (s *Store) Exists(id cmn.CapsuleId) (bool, error) {
	c, err := s.Get(id)
	return c != nil, err
}

// PutIfAbsent inserts a brand-new capsule. Fails with Conflict if the id
// already exists, or if the subject already maps to a different capsule —
// the subject index is a function, never a multimap.
func (s *Store) PutIfAbsent(c *Capsule) error {
	err := s.db.Raw().Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(capsuleKey(c.ID)); err == nil {
			return cmn.Conflict("capsule_exists")
		} else if err != buntdb.ErrNotFound {
			return err
		}
		sk := subjKey(c.Subject.Key())
		if existing, err := tx.Get(sk); err == nil && existing != string(c.ID) {
			return cmn.Conflict("subject_exists")
		} else if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		data, err := encodeCapsule(c)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(capsuleKey(c.ID), data, nil); err != nil {
			return err
		}
		if _, _, err := tx.Set(sk, string(c.ID), nil); err != nil {
			return err
		}
		for ownerKey := range c.Owners {
			if _, _, err := tx.Set(ownKey(ownerKey, c.ID), "", nil); err != nil {
				return err
			}
		}
		return nil
	})
	return translateErr(err, "put_if_absent")
}

// Upsert replaces the entire record, recomputing index deltas. The only
// caller allowed to change subject (bootstrap / administrative restore);
// UpdateWith rejects subject changes at the caller level.
func (s *Store) Upsert(c *Capsule) (previous *Capsule, err error) {
	txErr := s.db.Raw().Update(func(tx *buntdb.Tx) error {
		key := capsuleKey(c.ID)
		raw, getErr := tx.Get(key)
		var old *Capsule
		if getErr == nil {
			old, err = decodeCapsule(raw)
			if err != nil {
				return err
			}
		} else if getErr != buntdb.ErrNotFound {
			return getErr
		}

		newSK := subjKey(c.Subject.Key())
		if old == nil || !old.Subject.Equal(c.Subject) {
			if existing, getErr := tx.Get(newSK); getErr == nil && existing != string(c.ID) {
				return cmn.Conflict("subject_exists")
			} else if getErr != nil && getErr != buntdb.ErrNotFound {
				return getErr
			}
		}

		data, encErr := encodeCapsule(c)
		if encErr != nil {
			return encErr
		}
		if _, _, setErr := tx.Set(key, data, nil); setErr != nil {
			return setErr
		}

		// subject index: remove-before-insert tie-break
		if old != nil && !old.Subject.Equal(c.Subject) {
			if _, delErr := tx.Delete(subjKey(old.Subject.Key())); delErr != nil && delErr != buntdb.ErrNotFound {
				return delErr
			}
		}
		if old == nil || !old.Subject.Equal(c.Subject) {
			if _, _, setErr := tx.Set(newSK, string(c.ID), nil); setErr != nil {
				return setErr
			}
		}

		// owner index delta: removals before insertions
		oldOwners := map[cmn.PersonRefKey]struct{}{}
		if old != nil {
			oldOwners = old.ownerKeys()
		}
		newOwners := c.ownerKeys()
		for k := range oldOwners {
			if _, ok := newOwners[k]; !ok {
				if _, delErr := tx.Delete(ownKey(k, c.ID)); delErr != nil && delErr != buntdb.ErrNotFound {
					return delErr
				}
			}
		}
		for k := range newOwners {
			if _, ok := oldOwners[k]; !ok {
				if _, _, setErr := tx.Set(ownKey(k, c.ID), "", nil); setErr != nil {
					return setErr
				}
			}
		}
		previous = old
		return nil
	})
	if txErr != nil {
		return nil, translateErr(txErr, "upsert")
	}
	return previous, nil
}

// Remove atomically deletes the record and all index entries referencing
// it.
func (s *Store) Remove(id cmn.CapsuleId) (*Capsule, error) {
	var removed *Capsule
	err := s.db.Raw().Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(capsuleKey(id))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		c, err := decodeCapsule(raw)
		if err != nil {
			return err
		}
		removed = c
		if _, err := tx.Delete(capsuleKey(id)); err != nil {
			return err
		}
		if _, err := tx.Delete(subjKey(c.Subject.Key())); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		for ownerKey := range c.Owners {
			if _, err := tx.Delete(ownKey(ownerKey, id)); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, translateErr(err, "remove")
	}
	return removed, nil
}

// UpdateWith is the only mutation entry point. F runs under
// a single exclusive handle on the capsule; if it returns an error, nothing
// is written back, and the error propagates verbatim. F is responsible for
// bumping UpdatedAt itself — the store never auto-bumps it.
func UpdateWith[R any](s *Store, id cmn.CapsuleId, f func(*Capsule) (R, error)) (R, error) {
	var zero R
	var result R
	var ferr error
	txErr := s.db.Raw().Update(func(tx *buntdb.Tx) error {
		key := capsuleKey(id)
		raw, err := tx.Get(key)
		if err == buntdb.ErrNotFound {
			return cmn.NotFound("capsule")
		}
		if err != nil {
			return err
		}
		c, err := decodeCapsule(raw)
		if err != nil {
			return err
		}
		oldOwners := c.ownerKeys()
		oldSubject := c.Subject

		result, ferr = f(c)
		if ferr != nil {
			return ferr
		}
		if !c.Subject.Equal(oldSubject) {
			return cmn.InvalidArgument("update_with: subject is immutable")
		}
		debug.Assert(len(c.Owners) > 0, "update_with: capsule left with no owners")

		data, err := encodeCapsule(c)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(key, data, nil); err != nil {
			return err
		}

		newOwners := c.ownerKeys()
		for k := range oldOwners {
			if _, ok := newOwners[k]; !ok {
				if _, err := tx.Delete(ownKey(k, id)); err != nil && err != buntdb.ErrNotFound {
					return err
				}
			}
		}
		for k := range newOwners {
			if _, ok := oldOwners[k]; !ok {
				if _, _, err := tx.Set(ownKey(k, id), "", nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if txErr != nil {
		if ferr != nil {
			// F's own error propagates verbatim.
			return zero, ferr
		}
		return zero, translateErr(txErr, "update_with")
	}
	return result, nil
}

// FindBySubject is a single index lookup.
func (s *Store) FindBySubject(p cmn.PersonRef) (*Capsule, error) {
	var id string
	err := s.db.Raw().View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(subjKey(p.Key()))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		id = v
		return nil
	})
	if err != nil {
		return nil, translateErr(err, "find_by_subject")
	}
	if id == "" {
		return nil, nil
	}
	return s.Get(cmn.CapsuleId(id))
}

// ListByOwner is a multimap range scan, stable-sorted by CapsuleId
// ascending (the own: keys are already stored ascending by CapsuleId within
// a fixed owner prefix, so the scan order already satisfies this; the
// explicit sort below guards against any future key-format change).
func (s *Store) ListByOwner(p cmn.PersonRef) ([]cmn.CapsuleId, error) {
	prefix := ownPrefix + string(p.Key()) + ":"
	var ids []cmn.CapsuleId
	err := s.db.Raw().View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
			if !strings.HasPrefix(key, prefix) {
				return false
			}
			ids = append(ids, cmn.CapsuleId(strings.TrimPrefix(key, prefix)))
			return true
		})
	})
	if err != nil {
		return nil, translateErr(err, "list_by_owner")
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Paginate returns capsules ordered solely by CapsuleId.
// after is exclusive; limit defaults to 50 and hard-caps at 100.
func (s *Store) Paginate(after *cmn.CapsuleId, limit int, order Order) (*Page, error) {
	cfg := cmn.GCO.Get()
	if limit <= 0 {
		limit = cfg.PageLimitDefault
	}
	if limit > cfg.PageLimitMax {
		limit = cfg.PageLimitMax
	}

	var items []Capsule
	scan := func(tx *buntdb.Tx) error {
		collect := func(key, value string) bool {
			if !strings.HasPrefix(key, capsulePrefix) {
				return false
			}
			c, err := decodeCapsule(value)
			if err != nil {
				return false
			}
			items = append(items, *c)
			return len(items) < limit+1
		}
		if order == Asc {
			pivot := capsulePrefix
			if after != nil {
				pivot = capsuleKey(*after) + "\x00" // strictly greater than capsule:<after>
			}
			return tx.AscendGreaterOrEqual("", pivot, collect)
		}
		// DescendLessOrEqual has no strict-less-than variant, so start at
		// after itself and skip it explicitly (after is exclusive).
		pivot := capsulePrefix + "\xff"
		if after != nil {
			pivot = capsuleKey(*after)
		}
		return tx.DescendLessOrEqual("", pivot, func(key, value string) bool {
			if !strings.HasPrefix(key, capsulePrefix) {
				return false
			}
			if after != nil && key == capsuleKey(*after) {
				return true
			}
			c, err := decodeCapsule(value)
			if err != nil {
				return true
			}
			items = append(items, *c)
			return len(items) < limit+1
		})
	}
	if err := s.db.Raw().View(scan); err != nil {
		return nil, translateErr(err, "paginate")
	}

	page := &Page{}
	if len(items) > limit {
		next := items[limit-1].ID
		page.Items = items[:limit]
		page.NextCursor = &next
	} else {
		page.Items = items
	}
	return page, nil
}

func (s *Store) Count() (uint64, error) {
	var n uint64
	err := s.db.Raw().View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", capsulePrefix, func(key, _ string) bool {
			if !strings.HasPrefix(key, capsulePrefix) {
				return false
			}
			n++
			return true
		})
	})
	if err != nil {
		return 0, translateErr(err, "count")
	}
	return n, nil
}

func translateErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cmn.Error); ok {
		return ce
	}
	return cmn.WrapInternal(err, op)
}
