//go:build unix

package devices

import "golang.org/x/sys/unix"

func canReadWrite(path string) bool {
	return unix.Access(path, unix.R_OK|unix.W_OK) == nil
}
