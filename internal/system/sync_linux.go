//go:build linux

package system

import "golang.org/x/sys/unix"

func syncFilesystems() {
	unix.Sync()
}
