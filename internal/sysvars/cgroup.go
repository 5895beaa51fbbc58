package sysvars

import (
	"os"
	"strconv"
	"strings"
)

// memoryLimit returns the container memory limit in bytes, read from the
// cgroup filesystem. Tries cgroup v2 first (/sys/fs/cgroup/memory.max), then
// falls back to cgroup v1 (/sys/fs/cgroup/memory/memory.limit_in_bytes).
// Returns 0 with no error when cgroup v2 reports "max" and no v1 file is
// readable, or when neither file is readable (e.g. outside a container) —
// callers treat that as "don't report a limit" rather than a failure. A v1
// value is returned as read, so an unlimited v1 cgroup yields its large
// sentinel number rather than 0.
func memoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	return 0, nil
}
