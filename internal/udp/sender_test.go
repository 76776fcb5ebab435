package udp

import (
	"errors"
	"net"
	"testing"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewSender_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	s, err := newSender("127.0.0.1:5000", net.ResolveUDPAddr, dial)
	if err != nil {
		t.Fatalf("newSender() error: %v", err)
	}
	defer s.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 5000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:5000", gotRaddr)
	}
	if s.Dest() != "127.0.0.1:5000" {
		t.Fatalf("dest=%q", s.Dest())
	}
}

func TestNewSender_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newSender("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestSender_Send(t *testing.T) {
	fc := &fakeConn{}
	s := &Sender{dest: "x", conn: fc}

	if err := s.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("empty payload was written")
	}

	p := []byte("$GPRMC,1*00")
	if err := s.WriteDatagram(p); err != nil {
		t.Fatalf("WriteDatagram() error: %v", err)
	}
	if len(fc.writes) != 1 || string(fc.writes[0]) != string(p) {
		t.Fatalf("writes=%q want [%q]", fc.writes, p)
	}

	fc.writeErr = errors.New("boom")
	if err := s.Send(p); !errors.Is(err, fc.writeErr) {
		t.Fatalf("err=%v want %v", err, fc.writeErr)
	}
}

func TestSender_Close(t *testing.T) {
	fc := &fakeConn{}
	s := &Sender{conn: fc}
	if err := s.Close(); err != nil || !fc.closed {
		t.Fatalf("Close() err=%v closed=%v", err, fc.closed)
	}
	if err := (&Sender{}).Close(); err != nil {
		t.Fatalf("Close() on nil conn: %v", err)
	}
}
