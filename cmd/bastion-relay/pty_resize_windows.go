//go:build windows
// +build windows

package main

import "os"

// startPTYResizeWatcher is a no-op on Windows: SIGWINCH does not exist there,
// and referencing it anywhere in a Windows build fails compilation. Initial
// PTY sizing is still applied before the session starts.
func startPTYResizeWatcher(_ *os.File) {
	// no-op
}
