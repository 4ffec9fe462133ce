package supervisor

import "io"

// PTY abstracts a pseudo-terminal across platforms: creack/pty on
// POSIX, Windows ConPTY (via UserExistsError/conpty) on Windows.
type PTY interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
