package preflight

import "syscall"

// MinFileDescriptors covers the SQLite, bleve and HNSW files plus the
// watcher's inotify handles on a mid-sized tree.
const MinFileDescriptors = 1024

// CheckFileDescriptors checks the soft RLIMIT_NOFILE.
func (c *Checker) CheckFileDescriptors() Result {
	const name = "file_descriptors"
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return fail(name, true, "failed to read limit: %v", err)
	}
	if limit.Cur < c.minFiles {
		r := fail(name, true, "%d (minimum: %d)", limit.Cur, c.minFiles)
		r.Details = "run 'ulimit -n 10240' before starting ragkb"
		return r
	}
	return pass(name, true, "%d", limit.Cur)
}
