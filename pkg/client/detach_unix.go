//go:build !windows

package client

import "syscall"

// detachedSysProcAttr starts the spawned daplinkd in its own session so
// it outlives the client process and isn't killed by the client's
// controlling terminal.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
