//go:build windows
// +build windows

package main

// flushTTYInput is a no-op on Windows: there is no /dev/tty, and the console
// input queue does not carry the OSC/DSR reply problem this works around.
func flushTTYInput() {
}
