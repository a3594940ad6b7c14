//go:build linux

package bluez

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const listenBacklog = 1

type l2capListener struct {
	psm uint16
	fd  int
}

func listenL2CAP(psm uint16) (*l2capListener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("l2cap socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap psm %d: reuseaddr: %w", psm, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrL2{PSM: psm}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap psm %d: bind: %w", psm, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("l2cap psm %d: listen: %w", psm, err)
	}
	return &l2capListener{psm: psm, fd: fd}, nil
}

// accept blocks until a host connects and returns the connection and the
// host's address.
func (l *l2capListener) accept() (int, string, error) {
	for {
		nfd, sa, err := unix.Accept(l.fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, "", err
		}
		unix.CloseOnExec(nfd)
		l2, ok := sa.(*unix.SockaddrL2)
		if !ok {
			unix.Close(nfd)
			continue
		}
		return nfd, formatMAC(l2.Addr), nil
	}
}

// close wakes a blocked accept.
func (l *l2capListener) close() {
	closeConn(l.fd)
}

func readPacket(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func writePacket(fd int, b []byte) error {
	_, err := unix.Write(fd, b)
	return err
}

func closeConn(fd int) {
	if fd < 0 {
		return
	}
	unix.Shutdown(fd, unix.SHUT_RDWR)
	unix.Close(fd)
}
