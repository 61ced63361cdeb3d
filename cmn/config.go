package cmn

import (
	"os"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/552020/futura-alpha-icp-sub007/cmn/jsp"
)

// Config holds every runtime tunable for the capsule core, plus the storage
// paths and session TTL a deployed instance needs.
type Config struct {
	InlineMax           int64         `json:"inline_max"`
	CapsuleInlineBudget int64         `json:"capsule_inline_budget"`
	ChunkSize           int64         `json:"chunk_size"`
	MaxChunks           int           `json:"max_chunks"`
	MaxActivePerCaller  int           `json:"max_active_per_caller"`
	PageLimitDefault    int           `json:"page_limit_default"`
	PageLimitMax        int           `json:"page_limit_max"`
	SessionTTL          time.Duration `json:"session_ttl"`

	KVPath   string `json:"kv_path"`   // "" => in-memory buntdb
	BlobRoot string `json:"blob_root"` // root directory for paged blob/session content
}

// interface guard for jsp.Opts
var _ jsp.Opts = (*Config)(nil)

func (*Config) JspOpts() jsp.Options { return jsp.Plain() }

// DefaultConfig returns the documented production defaults.
func DefaultConfig() *Config {
	return &Config{
		InlineMax:           32 * 1024,
		CapsuleInlineBudget: 32 * 1024,
		ChunkSize:           64 * 1024,
		MaxChunks:           16384,
		MaxActivePerCaller:  10,
		PageLimitDefault:    50,
		PageLimitMax:        100,
		SessionTTL:          30 * time.Minute,
		KVPath:              "",
		BlobRoot:            "./capsule-data/blobs",
	}
}

func (c *Config) Validate() error {
	if c.InlineMax <= 0 || c.CapsuleInlineBudget <= 0 || c.ChunkSize <= 0 {
		return InvalidArgument("config: sizes must be positive")
	}
	if c.MaxChunks <= 0 || c.MaxActivePerCaller <= 0 {
		return InvalidArgument("config: counts must be positive")
	}
	if c.PageLimitDefault <= 0 || c.PageLimitMax <= 0 || c.PageLimitDefault > c.PageLimitMax {
		return InvalidArgument("config: page limits invalid")
	}
	return nil
}

// globalConfigOwner holds the live Config behind go.uber.org/atomic's Value,
// giving every goroutine a lock-free snapshot read.
type globalConfigOwner struct {
	mtx sync.Mutex
	v   atomic.Value
}

func (o *globalConfigOwner) Get() *Config {
	v := o.v.Load()
	if v == nil {
		return DefaultConfig()
	}
	return v.(*Config)
}

func (o *globalConfigOwner) Put(c *Config) { o.v.Store(c) }

// BeginUpdate/CommitUpdate give callers a clone-mutate-commit sequence:
// clone the current config, mutate the clone, then commit it atomically
// rather than mutating the live pointer in place.
func (o *globalConfigOwner) BeginUpdate() *Config {
	o.mtx.Lock()
	cur := o.Get()
	clone := *cur
	return &clone
}

func (o *globalConfigOwner) CommitUpdate(c *Config) {
	defer o.mtx.Unlock()
	o.Put(c)
}

func (o *globalConfigOwner) AbortUpdate() { o.mtx.Unlock() }

// GCO is the single process-wide config owner.
var GCO = &globalConfigOwner{}

func init() { GCO.Put(DefaultConfig()) }

// LoadConfigFile loads a Config from a plain (unchecksummed, see
// Config.JspOpts) JSON file via jsp and commits it to GCO. Absence of the file is not an
// error: the documented defaults stay in effect.
func LoadConfigFile(path string) error {
	if path == "" {
		return nil
	}
	c := DefaultConfig()
	if _, err := jsp.LoadMeta(path, c); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return WrapInternal(err, "load config")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	GCO.Put(c)
	return nil
}

// SaveConfigFile persists the current GCO config to path.
func SaveConfigFile(path string) error {
	if path == "" {
		return nil
	}
	if err := jsp.SaveMeta(path, GCO.Get()); err != nil {
		return WrapInternal(err, "save config")
	}
	return nil
}
