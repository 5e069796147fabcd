//go:build !windows
// +build !windows

package main

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// flushTTYInput discards input bytes queued on the controlling terminal.
// Terminal integrations can leave OSC/DSR replies in the input queue while we
// wait on the session service; without a flush the remote shell reads them as
// typed characters. Best-effort and silent: a non-interactive run has no
// /dev/tty and nothing to flush.
func flushTTYInput() {
	tty, err := os.OpenFile("/dev/tty", os.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer func() { _ = tty.Close() }()

	fd := int(tty.Fd())
	if fd < 0 {
		return
	}

	// tcflush(fd, TCIFLUSH) via ioctl(TCFLSH); 0x540B on both Linux and
	// Darwin, and TCIFLUSH = 0 means "drop unread input".
	const TCFLSH = 0x540B
	_, _, _ = unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(TCFLSH), uintptr(unix.TCIFLUSH))

	// Replies can land right after the flush. Drain non-blocking for a short
	// window, extending while bytes keep arriving.
	_ = unix.SetNonblock(fd, true)
	defer func() { _ = unix.SetNonblock(fd, false) }()

	deadline := time.Now().Add(200 * time.Millisecond)
	buf := make([]byte, 512)
	for time.Now().Before(deadline) {
		n, rerr := unix.Read(fd, buf)
		if n > 0 {
			deadline = time.Now().Add(75 * time.Millisecond)
			continue
		}
		if rerr == unix.EAGAIN || rerr == unix.EWOULDBLOCK {
			break
		}
		break
	}
}
