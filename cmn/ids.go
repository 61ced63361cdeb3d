package cmn

import (
	"sync"

	"github.com/teris-io/shortid"
)

// CapsuleId, MemoryId, GalleryId, GroupId are opaque, centrally generated
// strings. SessionId and BlobId are unsigned 64-bit integers minted from
// monotonic counters and live in cmn/counters.go instead.
type (
	CapsuleId string
	MemoryId  string
	GalleryId string
	GroupId   string
)

var (
	sidMu sync.Mutex
	sid   *shortid.Shortid
)

// InitIDGen seeds the generator exactly once (same call shape as the
// teacher's cmn.InitShortID). Safe to call multiple times; only the first
// seed sticks.
func InitIDGen(seed uint64) {
	sidMu.Lock()
	defer sidMu.Unlock()
	if sid != nil {
		return
	}
	sid = shortid.MustNew(1 /*worker*/, shortid.DefaultABC, seed)
}

func genShortID() string {
	sidMu.Lock()
	s := sid
	sidMu.Unlock()
	if s == nil {
		InitIDGen(1)
		sidMu.Lock()
		s = sid
		sidMu.Unlock()
	}
	return s.MustGenerate()
}

func GenCapsuleId() CapsuleId { return CapsuleId("cap_" + genShortID()) }
func GenMemoryId() MemoryId   { return MemoryId("mem_" + genShortID()) }
func GenGalleryId() GalleryId { return GalleryId("gal_" + genShortID()) }
func GenGroupId() GroupId     { return GroupId("grp_" + genShortID()) }
