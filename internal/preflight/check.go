package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/ragkb/internal/config"
	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/store"
)

// Status is the outcome of one check.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status by name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of a single named check.
type Result struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Message  string `json:"message"`
	Details  string `json:"details,omitempty"`
	Required bool   `json:"required"`
}

// IsCritical reports a failed required check.
func (r Result) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

func pass(name string, required bool, format string, args ...any) Result {
	return Result{Name: name, Status: StatusPass, Message: fmt.Sprintf(format, args...), Required: required}
}

func fail(name string, required bool, format string, args ...any) Result {
	return Result{Name: name, Status: StatusFail, Message: fmt.Sprintf(format, args...), Required: required}
}

func warn(name string, format string, args ...any) Result {
	return Result{Name: name, Status: StatusWarn, Message: fmt.Sprintf(format, args...)}
}

// Checker runs checks against one configuration.
type Checker struct {
	cfg          *config.Config
	probeTimeout time.Duration
	minDisk      uint64
	minFiles     uint64
}

// Option configures a Checker.
type Option func(*Checker)

// WithProbeTimeout bounds the embedder and generator probes.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.probeTimeout = d
		}
	}
}

// WithMinDiskSpace overrides the free space required in the data directory.
func WithMinDiskSpace(bytes uint64) Option {
	return func(c *Checker) { c.minDisk = bytes }
}

// New creates a Checker for cfg.
func New(cfg *config.Config, opts ...Option) *Checker {
	c := &Checker{
		cfg:          cfg,
		probeTimeout: 15 * time.Second,
		minDisk:      MinDiskSpaceBytes,
		minFiles:     MinFileDescriptors,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check in order. Probes are skipped when the
// configuration itself does not validate.
func (c *Checker) RunAll(ctx context.Context) []Result {
	results := []Result{c.CheckConfig()}
	results = append(results,
		c.CheckWritePermissions(),
		c.CheckDiskSpace(),
		c.CheckFileDescriptors(),
		c.CheckLock(),
	)
	if results[0].Status == StatusFail {
		return results
	}
	return append(results, c.CheckEmbedder(ctx), c.CheckGenerator(ctx))
}

// HasCriticalFailures reports whether any required check failed.
func HasCriticalFailures(results []Result) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// Summary is "failed", "ready_with_warnings" or "ready".
func Summary(results []Result) string {
	warned := false
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status != StatusPass {
			warned = true
		}
	}
	if warned {
		return "ready_with_warnings"
	}
	return "ready"
}

// CheckConfig validates the loaded configuration.
func (c *Checker) CheckConfig() Result {
	if err := c.cfg.Validate(); err != nil {
		return fail("config", true, "%v", err)
	}
	return pass("config", true, "OK")
}

// CheckWritePermissions creates the data directory if needed and writes a
// probe file into it.
func (c *Checker) CheckWritePermissions() Result {
	const name = "data_dir"
	if err := os.MkdirAll(c.cfg.DataDir, 0o755); err != nil {
		return fail(name, true, "cannot create %s: %v", c.cfg.DataDir, err)
	}
	probe := filepath.Join(c.cfg.DataDir, ".preflight-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fail(name, true, "%s is not writable: %v", c.cfg.DataDir, err)
	}
	_ = os.Remove(probe)
	return pass(name, true, "%s is writable", c.cfg.DataDir)
}

// CheckLock reports whether another process currently owns the data
// directory. A held lock is a warning: serve or watch may legitimately be
// running.
func (c *Checker) CheckLock() Result {
	const name = "data_dir_lock"
	lock := store.NewDirLock(c.cfg.DataDir)
	if err := lock.TryLock(); err != nil {
		if kberrors.GetCode(err) == kberrors.ErrCodeStoreLocked {
			r := warn(name, "in use by another ragkb process")
			r.Details = lock.Path()
			return r
		}
		return fail(name, true, "%v", err)
	}
	_ = lock.Unlock()
	return pass(name, true, "free")
}
