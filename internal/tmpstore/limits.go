// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package tmpstore

import (
	"golang.org/x/sys/unix"
)

const (
	// reservedDescriptors are left for inputs, output, and the runtime.
	reservedDescriptors = 32
	minBudget           = 8
	maxBudget           = 4096
	fallbackBudget      = 256
)

type FSUsage struct {
	// Bytes
	TotalBytes uint64 // total capacity (in bytes)
	FreeBytes  uint64 // bytes available to non-root users
	UsedBytes  uint64 // bytes currently in use  (TotalBytes - FreeBytes)

	// Inodes
	TotalInodes uint64
	FreeInodes  uint64
}

// DiskUsage reports capacity and free space of the filesystem holding path.
func DiskUsage(path string) (FSUsage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FSUsage{}, err
	}

	totalBytes := st.Blocks * uint64(st.Bsize)
	freeBytes := st.Bavail * uint64(st.Bsize)

	return FSUsage{
		TotalBytes:  totalBytes,
		FreeBytes:   freeBytes,
		UsedBytes:   totalBytes - freeBytes,
		TotalInodes: st.Files,
		FreeInodes:  st.Ffree,
	}, nil
}

// DescriptorBudget derives how many temp files may be open at once from the
// soft RLIMIT_NOFILE.
func DescriptorBudget() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return fallbackBudget
	}
	if rl.Cur == unix.RLIM_INFINITY || rl.Cur > uint64(maxBudget+reservedDescriptors) {
		return maxBudget
	}
	return max(int(rl.Cur)-reservedDescriptors, minBudget)
}
