// SPDX-License-Identifier: MPL-2.0

//go:build unix && !(linux || darwin || dragonfly || freebsd || netbsd || openbsd)

package container

import "errors"

// Without terminal ioctls a command on a terminal shares this process's group.

func foregroundGroup(int) (int, error) {
	return 0, errors.ErrUnsupported
}

func setForegroundGroup(int, int) error {
	return errors.ErrUnsupported
}
