// Package transport resolves a discovered peer's DeviceConnectionInfo
// into a raw byte stream, preferring TCP and falling back to a
// platform-supplied BLE L2CAP connection. This generalizes the
// reference codebase's Dialer/Listener split (plain TCP dialing wrapped
// in a small interface) to a selector that also knows how to wait on an
// asynchronous platform callback for the BLE path, the way the original
// nearby-share implementation keys a pending L2CAP attempt by a
// freshly generated connection ID and rendezvous on a one-shot channel.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/InterShare/InterShareSDK/metrics"
	"github.com/InterShare/InterShareSDK/wire"
)

// Medium identifies which transport a connection was ultimately
// established over.
type Medium int

const (
	MediumUnknown Medium = iota
	MediumWiFi
	MediumBLE
)

func (m Medium) String() string {
	switch m {
	case MediumWiFi:
		return "wifi"
	case MediumBLE:
		return "ble"
	default:
		return "unknown"
	}
}

// Error kinds surfaced by the selector, matched with errors.Is.
var (
	ErrFailedToGetConnectionDetails = errors.New("transport: peer offered no usable connection details")
	ErrFailedToGetTCPDetails         = errors.New("transport: peer did not advertise tcp details")
	ErrFailedToGetSocketAddress      = errors.New("transport: could not resolve peer address")
	ErrFailedToOpenTCPStream         = errors.New("transport: tcp dial failed")
	ErrFailedToGetBLEDetails         = errors.New("transport: peer did not advertise ble details")
	ErrInternalBLEHandlerNotAvailable = errors.New("transport: no ble client delegate registered")
	ErrFailedToEstablishBLEConnection = errors.New("transport: ble l2cap connection was not established")
)

// L2CAPClient is implemented by the platform layer to open an outbound
// BLE L2CAP socket. OpenL2CAPConnection must eventually result in either
// HandleIncomingBLEConnection(connectionID, stream) or
// FailL2CAPConnection(connectionID, err) being called on the Selector
// that issued the request.
type L2CAPClient interface {
	OpenL2CAPConnection(connectionID string, peerBLEUUID string, psm uint32) error
}

// Selector turns a peer descriptor into a raw connection.
type Selector struct {
	l2cap          L2CAPClient
	bleTimeout     time.Duration
	dialTimeout    time.Duration
	pending        sync.Map // connectionID string -> chan pendingResult
}

type pendingResult struct {
	stream io.ReadWriteCloser
	err    error
}

// NewSelector creates a Selector. l2cap may be nil if the platform has no
// BLE support wired in; the selector then only ever attempts TCP.
func NewSelector(l2cap L2CAPClient, bleTimeout time.Duration) *Selector {
	if bleTimeout <= 0 {
		bleTimeout = 30 * time.Second
	}
	return &Selector{l2cap: l2cap, bleTimeout: bleTimeout, dialTimeout: 10 * time.Second}
}

// Connect resolves info into a raw stream, trying TCP first and falling
// back to BLE L2CAP if TCP is unavailable or fails.
func (s *Selector) Connect(ctx context.Context, info wire.DeviceConnectionInfo) (io.ReadWriteCloser, Medium, error) {
	stream, medium, err := s.connect(ctx, info)
	if err != nil {
		metrics.ConnectionFailures.Inc()
	}
	return stream, medium, err
}

func (s *Selector) connect(ctx context.Context, info wire.DeviceConnectionInfo) (io.ReadWriteCloser, Medium, error) {
	if info.TCP == nil && info.BLE == nil {
		return nil, MediumUnknown, ErrFailedToGetConnectionDetails
	}

	if info.TCP != nil {
		stream, err := s.connectTCP(ctx, info.TCP)
		if err == nil {
			return stream, MediumWiFi, nil
		}
		if info.BLE == nil {
			return nil, MediumUnknown, err
		}
	}

	if info.BLE == nil {
		return nil, MediumUnknown, ErrFailedToGetBLEDetails
	}
	stream, err := s.connectBLE(ctx, info.BLE)
	if err != nil {
		return nil, MediumUnknown, err
	}
	return stream, MediumBLE, nil
}

func (s *Selector) connectTCP(ctx context.Context, details *wire.TCPConnectionDetails) (io.ReadWriteCloser, error) {
	addr := fmt.Sprintf("%s:%d", details.Hostname, details.Port)
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToGetSocketAddress, err)
	}

	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToOpenTCPStream, err)
	}
	return conn, nil
}

func (s *Selector) connectBLE(ctx context.Context, details *wire.BLEConnectionDetails) (io.ReadWriteCloser, error) {
	if s.l2cap == nil {
		return nil, ErrInternalBLEHandlerNotAvailable
	}

	connectionID := uuid.NewString()
	resultCh := make(chan pendingResult, 1)
	s.pending.Store(connectionID, resultCh)
	defer s.pending.Delete(connectionID)

	if err := s.l2cap.OpenL2CAPConnection(connectionID, details.UUID, details.PSM); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToEstablishBLEConnection, err)
	}

	timer := time.NewTimer(s.bleTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToEstablishBLEConnection, res.err)
		}
		return res.stream, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: timed out waiting for platform callback", ErrFailedToEstablishBLEConnection)
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrFailedToEstablishBLEConnection, ctx.Err())
	}
}

// HandleIncomingBLEConnection is called by the platform layer once an
// L2CAP socket for connectionID has been established. It resolves the
// matching pending Connect call. A connectionID with no pending Connect
// call (already timed out, or never issued) is a no-op.
func (s *Selector) HandleIncomingBLEConnection(connectionID string, stream io.ReadWriteCloser) {
	s.resolve(connectionID, pendingResult{stream: stream})
}

// FailL2CAPConnection is called by the platform layer when an outbound
// L2CAP attempt could not be completed.
func (s *Selector) FailL2CAPConnection(connectionID string, err error) {
	s.resolve(connectionID, pendingResult{err: err})
}

func (s *Selector) resolve(connectionID string, res pendingResult) {
	v, ok := s.pending.LoadAndDelete(connectionID)
	if !ok {
		return
	}
	ch := v.(chan pendingResult)
	ch <- res
}

// PendingCount returns the number of BLE connection attempts currently
// awaiting a platform callback. Exposed for health reporting and tests.
func (s *Selector) PendingCount() int {
	count := 0
	s.pending.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
