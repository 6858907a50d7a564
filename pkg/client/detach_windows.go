//go:build windows

package client

import "syscall"

// detachedSysProcAttr uses CREATE_NEW_PROCESS_GROUP so the spawned
// daplinkd survives the client process exiting.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: 0x00000200}
}
