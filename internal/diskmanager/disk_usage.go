// Package diskmanager guards the projects volume against running out of space.
package diskmanager

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskSpaceInfo holds detailed disk space information.
type DiskSpaceInfo struct {
	TotalBytes uint64
	UsedBytes  uint64
	FreeBytes  uint64
}

// UsedPercent returns the used share of the volume in percent.
func (d DiskSpaceInfo) UsedPercent() float64 {
	if d.TotalBytes == 0 {
		return 0
	}
	return float64(d.UsedBytes) / float64(d.TotalBytes) * 100.0
}

// GetDetailedDiskUsage returns the space figures of the filesystem holding path.
// Free bytes are those available to unprivileged users.
func GetDetailedDiskUsage(path string) (DiskSpaceInfo, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("failed to get disk usage for '%s': %w", path, err)
	}
	return DiskSpaceInfo{
		TotalBytes: usage.Total,
		UsedBytes:  usage.Used,
		FreeBytes:  usage.Free,
	}, nil
}
