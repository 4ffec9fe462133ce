//go:build windows

package worktree

import (
	"os"

	"golang.org/x/sys/windows"
)

// repoLock is a cross-process advisory lock backed by LockFileEx, guarding
// structural git mutations against concurrent Hydra processes on the same
// repository.
type repoLock struct {
	f *os.File
}

func acquireRepoLock(path string) (*repoLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	ol := new(windows.Overlapped)
	handle := windows.Handle(f.Fd())
	if err := windows.LockFileEx(handle, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, ol); err != nil {
		f.Close()
		return nil, err
	}
	return &repoLock{f: f}, nil
}

func (l *repoLock) Release() error {
	defer l.f.Close()
	ol := new(windows.Overlapped)
	handle := windows.Handle(l.f.Fd())
	return windows.UnlockFileEx(handle, 0, 1, 0, ol)
}
