// Package cluster owns the capsule primary record and its two secondary
// indexes — the sole writer of both, mirroring the
// teacher's cluster package being the sole owner of cluster membership maps
// (cluster/map.go).
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package cluster

import (
	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

type OwnerState struct {
	LastActivityAt int64 `json:"last_activity_at"`
}

type ControllerState struct {
	GrantedAt int64 `json:"granted_at"`
}

// Connection is a social-graph edge; its business semantics are owned by
// callers.
type Connection struct {
	Since int64  `json:"since"`
	Note  string `json:"note,omitempty"`
}

type ConnectionGroup struct {
	Name    string          `json:"name"`
	Members []cmn.PersonRef `json:"members"`
}

// BlobRef is the canonical content handle.
type BlobRef struct {
	SHA256  [32]byte `json:"sha256"`
	Len     uint64   `json:"len"`
	Locator string   `json:"locator"`
}

const (
	LocatorInlinePrefix = "inline_"
	LocatorBlobPrefix   = "blob_"
)

func (b BlobRef) IsInline() bool { return len(b.Locator) >= len(LocatorInlinePrefix) && b.Locator[:len(LocatorInlinePrefix)] == LocatorInlinePrefix }

// MemoryMeta is caller-supplied metadata, opaque to the core except for the
// size bounds enforced above it.
type MemoryMeta struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	MimeType    string            `json:"mime_type,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
	CreatedAt   int64             `json:"created_at,omitempty"`
	UpdatedAt   int64             `json:"updated_at,omitempty"`
}

type Memory struct {
	ID        cmn.MemoryId `json:"id"`
	Blob      BlobRef      `json:"blob"`
	Meta      MemoryMeta   `json:"meta"`
	CreatedAt int64        `json:"created_at"`
	Idem      string       `json:"idem,omitempty"`
}

type Gallery struct {
	ID        cmn.GalleryId  `json:"id"`
	Name      string         `json:"name"`
	MemoryIDs []cmn.MemoryId `json:"memory_ids"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// NeonBinding is the informational flag/annotation pair capsules_bind_neon
// records verbatim: the core does not interpret it.
type NeonBinding struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Bound        bool   `json:"bound"`
}

// Capsule is the primary entity.
type Capsule struct {
	ID      cmn.CapsuleId `json:"id"`
	Subject cmn.PersonRef `json:"subject"`

	Owners      map[cmn.PersonRefKey]OwnerState      `json:"owners"`
	Controllers map[cmn.PersonRefKey]ControllerState `json:"controllers"`
	Connections map[cmn.PersonRefKey]Connection      `json:"connections"`
	Groups      map[cmn.GroupId]ConnectionGroup      `json:"connection_groups"`

	Memories map[cmn.MemoryId]Memory   `json:"memories"`
	Galleries map[cmn.GalleryId]Gallery `json:"galleries"`

	BoundToWeb2 bool          `json:"bound_to_web2"`
	NeonBinding []NeonBinding `json:"neon_bindings,omitempty"`

	InlineBytesUsed uint64 `json:"inline_bytes_used"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// NewCapsule constructs a capsule with its one mandatory invariant —
// owners non-empty — already satisfied by the given initial owner.
func NewCapsule(id cmn.CapsuleId, subject cmn.PersonRef, initialOwner cmn.PersonRef, now int64) *Capsule {
	return &Capsule{
		ID:          id,
		Subject:     subject,
		Owners:      map[cmn.PersonRefKey]OwnerState{initialOwner.Key(): {LastActivityAt: now}},
		Controllers: map[cmn.PersonRefKey]ControllerState{},
		Connections: map[cmn.PersonRefKey]Connection{},
		Groups:      map[cmn.GroupId]ConnectionGroup{},
		Memories:    map[cmn.MemoryId]Memory{},
		Galleries:   map[cmn.GalleryId]Gallery{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (c *Capsule) IsOwner(p cmn.PersonRef) bool {
	_, ok := c.Owners[p.Key()]
	return ok
}

func (c *Capsule) IsController(p cmn.PersonRef) bool {
	_, ok := c.Controllers[p.Key()]
	return ok
}

// IsSubject reports whether p is the capsule's subject.
func (c *Capsule) IsSubject(p cmn.PersonRef) bool { return c.Subject.Equal(p) }

// CanWrite implements the memory finalizer's authorization gate: owner or subject.
func (c *Capsule) CanWrite(p cmn.PersonRef) bool { return c.IsOwner(p) || c.IsSubject(p) }

// CanUpload implements the upload engine's authorization gate: owner or controller.
func (c *Capsule) CanUpload(p cmn.PersonRef) bool { return c.IsOwner(p) || c.IsController(p) }

func (c *Capsule) ownerKeys() map[cmn.PersonRefKey]struct{} {
	m := make(map[cmn.PersonRefKey]struct{}, len(c.Owners))
	for k := range c.Owners {
		m[k] = struct{}{}
	}
	return m
}
