//go:build windows

package doctor

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

func checkDiskSpace(workspaceDir string) Check {
	check := filepath.Dir(workspaceDir)
	if _, err := os.Stat(workspaceDir); err == nil {
		check = workspaceDir
	}

	var freeBytes, totalBytes, totalFreeBytes uint64
	ptr, err := windows.UTF16PtrFromString(check)
	if err != nil {
		return Check{Name: "disk_space", Tier1: false, Weight: 1, Message: "could not stat filesystem: " + err.Error()}
	}
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return Check{Name: "disk_space", Tier1: false, Weight: 1, Message: "could not stat filesystem: " + err.Error()}
	}
	if freeBytes < minFreeBytes {
		return Check{Name: "disk_space", Tier1: false, Weight: 1, Message: "less than 200MB free under the workspace directory"}
	}
	return Check{Name: "disk_space", Passed: true, Tier1: false, Weight: 1}
}
