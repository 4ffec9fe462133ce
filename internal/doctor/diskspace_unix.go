//go:build !windows

package doctor

import (
	"os"
	"path/filepath"
	"syscall"
)

func checkDiskSpace(workspaceDir string) Check {
	check := filepath.Dir(workspaceDir)
	if _, err := os.Stat(workspaceDir); err == nil {
		check = workspaceDir
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(check, &stat); err != nil {
		return Check{Name: "disk_space", Tier1: false, Weight: 1, Message: "could not stat filesystem: " + err.Error()}
	}
	free := uint64(stat.Bavail) * uint64(stat.Bsize)
	if free < minFreeBytes {
		return Check{Name: "disk_space", Tier1: false, Weight: 1, Message: "less than 200MB free under the workspace directory"}
	}
	return Check{Name: "disk_space", Passed: true, Tier1: false, Weight: 1}
}
