//go:build unix

package udp

import "golang.org/x/sys/unix"

func setReadBuffer(fd uintptr, bytes int) error {
	return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bytes)
}
