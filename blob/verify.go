// Reconciliation pass: detect and discard storage left inconsistent by a
// crash between the last page write and the BlobMeta/session commit.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package blob

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

// Verify walks the blob root and deletes any blob id directory whose page
// set does not match its BlobMeta (or whose BlobMeta is entirely missing):
// a crash between the last page write and the metadata persist leaves
// exactly this kind of orphan. It also sweeps every chunk staging directory,
// since no chunk tree legitimately survives a restart once its owning
// session is gone — the caller re-uploads from scratch rather than trust
// partially staged bytes.
//
// Returns the number of blob ids removed and chunk directories swept.
func (s *Store) Verify() (blobsRemoved, chunksSwept int, err error) {
	blobsRemoved, err = s.verifyContentType(blobContent)
	if err != nil {
		return blobsRemoved, 0, err
	}
	chunksSwept, err = s.sweepAll(chunkContent)
	return blobsRemoved, chunksSwept, err
}

func (s *Store) verifyContentType(ct contentType) (removed int, err error) {
	root := filepath.Join(s.root, string(ct))
	ids, err := listIDDirs(root)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		ok, verr := s.verifyOne(cmn.BlobId(id))
		if verr != nil {
			return removed, verr
		}
		if !ok {
			if rerr := removeDir(s.root, ct, id); rerr != nil {
				return removed, cmn.WrapInternal(rerr, "remove orphaned blob dir")
			}
			removed++
		}
	}
	return removed, nil
}

func (s *Store) verifyOne(id cmn.BlobId) (ok bool, err error) {
	m, err := s.Head(id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	for idx := uint32(0); idx < m.PageCount; idx++ {
		if _, rerr := readPage(pageFQN(s.root, blobContent, uint64(id), idx)); rerr != nil {
			return false, nil
		}
	}
	return true, nil
}

// sweepAll removes every id directory under a content type unconditionally
// (used for chunk staging, which has no independent "is this complete"
// check the way blob pages have BlobMeta).
func (s *Store) sweepAll(ct contentType) (swept int, err error) {
	root := filepath.Join(s.root, string(ct))
	ids, err := listIDDirs(root)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if rerr := removeDir(s.root, ct, id); rerr != nil {
			return swept, cmn.WrapInternal(rerr, "sweep chunk dir")
		}
		swept++
	}
	return swept, nil
}

// listIDDirs walks root (two levels: fanout/<id>) with godirwalk — the
// teacher's choice for fast, allocation-light directory trees — and
// collects the numeric ids found at the second level.
func listIDDirs(root string) ([]uint64, error) {
	var ids []uint64
	err := godirwalk.Walk(root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			rel, rerr := filepath.Rel(root, path)
			if rerr != nil || rel == "." {
				return nil
			}
			parts := strings.Split(filepath.ToSlash(rel), "/")
			if len(parts) != 2 {
				return nil
			}
			id, perr := strconv.ParseUint(parts[1], 10, 64)
			if perr != nil {
				return nil
			}
			ids = append(ids, id)
			return nil
		},
		ErrorCallback: func(_ string, _ error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		// Root not yet created (fresh deployment) is not a failure.
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, cmn.WrapInternal(err, "walk blob root")
	}
	return ids, nil
}
