package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/InterShare/InterShareSDK/wire"
)

func TestConnectFailsWithNoDetails(t *testing.T) {
	sel := NewSelector(nil, 0)
	_, _, err := sel.Connect(context.Background(), wire.DeviceConnectionInfo{})
	if err != ErrFailedToGetConnectionDetails {
		t.Fatalf("err = %v, want ErrFailedToGetConnectionDetails", err)
	}
}

func TestConnectTCPSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	info := wire.DeviceConnectionInfo{
		TCP: &wire.TCPConnectionDetails{Hostname: "127.0.0.1", Port: uint32(addr.Port)},
	}

	sel := NewSelector(nil, 0)
	stream, medium, err := sel.Connect(context.Background(), info)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()
	if medium != MediumWiFi {
		t.Errorf("medium = %v, want MediumWiFi", medium)
	}
}

func TestConnectBLEWithoutDelegateFails(t *testing.T) {
	info := wire.DeviceConnectionInfo{
		BLE: &wire.BLEConnectionDetails{UUID: "peer-uuid", PSM: 1},
	}
	sel := NewSelector(nil, 0)
	_, _, err := sel.Connect(context.Background(), info)
	if err != ErrInternalBLEHandlerNotAvailable {
		t.Fatalf("err = %v, want ErrInternalBLEHandlerNotAvailable", err)
	}
}

type fakeL2CAP struct {
	selector    *Selector
	deliverWith io.ReadWriteCloser
}

func (f *fakeL2CAP) OpenL2CAPConnection(connectionID, peerUUID string, psm uint32) error {
	go f.selector.HandleIncomingBLEConnection(connectionID, f.deliverWith)
	return nil
}

func TestConnectBLEFallbackDelivers(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	sel := NewSelector(nil, time.Second)
	sel.l2cap = &fakeL2CAP{selector: sel, deliverWith: a}

	info := wire.DeviceConnectionInfo{
		BLE: &wire.BLEConnectionDetails{UUID: "peer-uuid", PSM: 7},
	}
	stream, medium, err := sel.Connect(context.Background(), info)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()
	if medium != MediumBLE {
		t.Errorf("medium = %v, want MediumBLE", medium)
	}
	if sel.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0 after delivery", sel.PendingCount())
	}
}

func TestConnectBLETimesOut(t *testing.T) {
	sel := NewSelector(nil, 10*time.Millisecond)
	sel.l2cap = &fakeL2CAP{selector: sel, deliverWith: nil} // never actually delivers in time

	info := wire.DeviceConnectionInfo{BLE: &wire.BLEConnectionDetails{UUID: "peer", PSM: 1}}
	// Override OpenL2CAPConnection behavior: don't call back at all.
	sel.l2cap = noopL2CAP{}

	_, _, err := sel.Connect(context.Background(), info)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

type noopL2CAP struct{}

func (noopL2CAP) OpenL2CAPConnection(connectionID, peerUUID string, psm uint32) error { return nil }

func TestTCPListenerAcceptsConnections(t *testing.T) {
	accepted := make(chan net.Conn, 1)
	l := NewTCPListener("127.0.0.1:0", func(c net.Conn) {
		accepted <- c
	})
	if err := l.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	select {
	case c := <-accepted:
		c.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}
