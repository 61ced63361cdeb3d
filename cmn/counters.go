package cmn

import "time"

// SessionId and BlobId are numeric handles minted from durable monotonic
// counters rather than from content hashes, unlike the opaque string ids
// in cmn/ids.go.
type (
	SessionId uint64
	BlobId    uint64
)

// NowUnix is the single clock the core reads from (capsule/session/memory
// timestamps), so every component agrees on "now" instead of scattering
// time.Now() calls. Nanosecond resolution keeps updated_at strictly
// increasing across mutations that land within the same wall-clock second.
func NowUnix() int64 { return time.Now().UnixNano() }
