package preflight

import (
	"fmt"
	"syscall"
)

// MinDiskSpaceBytes is the free space required in the data directory.
const MinDiskSpaceBytes = 100 * 1024 * 1024

// CheckDiskSpace checks free space on the volume holding the data directory.
func (c *Checker) CheckDiskSpace() Result {
	const name = "disk_space"
	var stat syscall.Statfs_t
	if err := syscall.Statfs(c.cfg.DataDir, &stat); err != nil {
		return fail(name, true, "failed to check disk space: %v", err)
	}
	available := stat.Bavail * uint64(stat.Bsize)
	if available < c.minDisk {
		return fail(name, true, "%s free (minimum: %s)", formatBytes(available), formatBytes(c.minDisk))
	}
	return pass(name, true, "%s free", formatBytes(available))
}

func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
		TB = 1024 * GB
	)
	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.1f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
