// SPDX-License-Identifier: MPL-2.0

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package container

import "golang.org/x/sys/unix"

func foregroundGroup(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}

func setForegroundGroup(fd, pgrp int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgrp)
}
