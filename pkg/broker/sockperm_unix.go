//go:build !windows

package broker

import "golang.org/x/sys/unix"

// chmodSocket restricts a freshly created unix socket to owner and group
// so arbitrary local users can't attach to someone else's probe session.
func chmodSocket(path string) error {
	return unix.Chmod(path, 0o660)
}
