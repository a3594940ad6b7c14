//go:build !linux

package bluez

import "errors"

var errNoL2CAP = errors.New("l2cap sockets are only available on linux")

type l2capListener struct {
	psm uint16
	fd  int
}

func listenL2CAP(uint16) (*l2capListener, error) { return nil, errNoL2CAP }

func (l *l2capListener) accept() (int, string, error) { return -1, "", errNoL2CAP }
func (l *l2capListener) close() {}

func readPacket(int, []byte) (int, error) { return 0, errNoL2CAP }
func writePacket(int, []byte) error { return errNoL2CAP }
func closeConn(int) {}
