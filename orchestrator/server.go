package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/InterShare/InterShareSDK/log"
	"github.com/InterShare/InterShareSDK/metrics"
	"github.com/InterShare/InterShareSDK/session"
	"github.com/InterShare/InterShareSDK/transport"
	"github.com/InterShare/InterShareSDK/wire"
)

// BLEServerDelegate toggles the platform's BLE GATT advertiser. StartServer
// begins advertising the discovery service/characteristic (§6 UUIDs);
// StopServer withdraws it.
type BLEServerDelegate interface {
	StartServer() error
	StopServer() error
}

// Server is the daemon's top-level orchestrator: it owns the TCP listener,
// the transport selector (including its optional BLE delegate), the
// advertised device identity, and the single entry point applications use
// to send files to a discovered peer. It is safe for concurrent use.
type Server struct {
	cfg Config

	mu     sync.RWMutex
	device wire.Device
	tcp    *wire.TCPConnectionDetails
	ble    *wire.BLEConnectionDetails

	advertise atomic.Bool

	listener     *transport.TCPListener
	selector     *transport.Selector
	bleServer    BLEServerDelegate
	connDelegate session.ConnectionDelegate

	registry   *ServiceRegistry
	recovery   *RecoveryPolicy
	events     *EventBus
	log        *log.Logger
	health     *HealthChecker
	healthMon  *HealthMonitor
	healthStop chan struct{}
	healthDone chan struct{}
	metricsOn  bool        // cfg.Metrics; when false, count/meteredProgress are no-ops
	mhub       *metricsHub // nil when cfg.Metrics is false
}

// tcpListenerName is the service name the listener is registered under in
// the registry and recovery policy.
const tcpListenerName = "tcp-listener"

// NewServer constructs a Server from cfg. connDelegate is invoked for every
// inbound transfer request; l2cap and bleServer may be nil on a platform
// (or test) with no BLE support, in which case the selector only ever
// attempts TCP and advertisements omit BLE connection details.
func NewServer(cfg Config, connDelegate session.ConnectionDelegate, l2cap transport.L2CAPClient, bleServer BLEServerDelegate) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if connDelegate == nil {
		return nil, errors.New("orchestrator: connDelegate must not be nil")
	}

	bleTimeout := time.Duration(cfg.BLEConnectTimeoutSeconds) * time.Second
	if !cfg.BLEEnabled {
		l2cap = nil
	}
	s := &Server{
		cfg:          cfg,
		device:       wire.Device{ID: deviceID(cfg), Name: cfg.DeviceName, DeviceType: parseDeviceType(cfg.DeviceType)},
		selector:     transport.NewSelector(l2cap, bleTimeout),
		bleServer:    bleServer,
		connDelegate: connDelegate,
		registry:     NewServiceRegistry(32),
		recovery:     NewRecoveryPolicy(),
		events:       NewEventBus(32),
		log:          log.Default().Module("orchestrator"),
		health:       NewHealthChecker(),
		healthMon:    NewHealthMonitor(15 * time.Second),
		metricsOn:    cfg.Metrics,
	}
	if cfg.Metrics {
		s.mhub = newMetricsHub(cfg.MetricsAddr, cfg.MetricsReportInterval, s.log)
	}
	s.advertise.Store(cfg.Advertise)
	if err := s.recovery.Register(tcpListenerName, DefaultRecoveryConfig()); err != nil {
		return nil, fmt.Errorf("orchestrator: register recovery policy: %w", err)
	}
	return s, nil
}

// Metrics returns the process-wide metrics registry, or nil if cfg.Metrics
// was false. Snapshot() on the returned registry yields every counter and
// histogram defined in the metrics package, including session outcomes,
// transfer byte counts, and handshake/transport latencies.
func (s *Server) Metrics() *metrics.Registry {
	if !s.metricsOn {
		return nil
	}
	return metrics.DefaultRegistry
}

// Health returns a consolidated report of the TCP listener and (if enabled)
// BLE advertiser subsystems. Call after Start; before that, Start has not
// yet registered any subsystem and the report is empty.
func (s *Server) Health() *HealthReport {
	return s.health.CheckAll()
}

// count increments c if metrics are enabled.
func (s *Server) count(c *metrics.Counter) {
	if s.metricsOn {
		c.Inc()
	}
}

// tcpListenerChecker reports the TCP listener's health by checking it is
// bound and accepting connections.
type tcpListenerChecker struct{ server *Server }

func (c tcpListenerChecker) Check() *SubsystemHealth {
	s := c.server
	s.mu.RLock()
	tcp := s.tcp
	s.mu.RUnlock()
	if s.listener == nil || tcp == nil {
		return &SubsystemHealth{Status: StatusUnhealthy, Message: "listener not started"}
	}
	return &SubsystemHealth{Status: StatusHealthy, Message: fmt.Sprintf("listening on %s:%d", tcp.Hostname, tcp.Port)}
}

// bleAdvertiserChecker reports the BLE advertiser's health. A daemon with
// BLE disabled, or with advertising currently toggled off, is degraded
// rather than unhealthy: it is a deliberate configuration, not a fault.
type bleAdvertiserChecker struct{ server *Server }

func (c bleAdvertiserChecker) Check() *SubsystemHealth {
	s := c.server
	if !s.cfg.BLEEnabled || s.bleServer == nil {
		return &SubsystemHealth{Status: StatusDegraded, Message: "ble disabled"}
	}
	if !s.advertise.Load() {
		return &SubsystemHealth{Status: StatusDegraded, Message: "advertising paused"}
	}
	return &SubsystemHealth{Status: StatusHealthy, Message: "advertising"}
}

func parseDeviceType(t string) wire.DeviceType {
	switch t {
	case "mobile":
		return wire.DeviceTypeMobile
	case "headless":
		return wire.DeviceTypeHeadless
	default:
		return wire.DeviceTypeDesktop
	}
}

// deviceID derives a stable identifier for the local device from its
// configured name; callers that need global uniqueness across reinstalls
// should set DeviceName accordingly, the way the data directory already
// scopes per-install state.
func deviceID(cfg Config) string {
	return "device:" + cfg.DeviceName
}

// Start brings up the TCP listener and, if BLEEnabled, the BLE advertiser,
// and begins advertising if configured to. It returns once every subsystem
// has started or the first one fails.
func (s *Server) Start() error {
	if err := s.cfg.InitDataDir(); err != nil {
		return err
	}

	s.listener = transport.NewTCPListener(s.cfg.TCPAddr(), s.acceptConn)
	if err := s.registry.Register(&ServiceDescriptor{Name: tcpListenerName, Service: s.listener, Priority: 10}); err != nil {
		return fmt.Errorf("orchestrator: register listener: %w", err)
	}

	if errs := s.registry.Start(); len(errs) > 0 {
		return fmt.Errorf("orchestrator: start: %w", errors.Join(errs...))
	}
	go s.watchListenerCrash()

	addr := s.listener.Addr().(*net.TCPAddr)
	hostname := addr.IP.String()
	if addr.IP.IsUnspecified() {
		hostname = "127.0.0.1"
		if ip := localIPv4(); ip != "" {
			hostname = ip
		}
	}
	s.mu.Lock()
	s.tcp = &wire.TCPConnectionDetails{Hostname: hostname, Port: uint32(addr.Port)}
	s.mu.Unlock()

	if s.cfg.BLEEnabled && s.bleServer != nil && s.advertise.Load() {
		if err := s.bleServer.StartServer(); err != nil {
			return fmt.Errorf("orchestrator: start ble advertiser: %w", err)
		}
	}

	s.health.SetStartTime(time.Now().Unix())
	s.health.RegisterSubsystem("tcp_listener", tcpListenerChecker{server: s})
	s.health.RegisterSubsystem("ble_advertiser", bleAdvertiserChecker{server: s})

	s.healthMon.Register("tcp_listener", func() bool {
		return tcpListenerChecker{server: s}.Check().Status == StatusHealthy
	})
	s.healthMon.Register("ble_advertiser", func() bool {
		status := bleAdvertiserChecker{server: s}.Check().Status
		return status == StatusHealthy || status == StatusDegraded
	})
	s.healthStop = make(chan struct{})
	s.healthDone = make(chan struct{})
	go s.pollHealth()

	if s.mhub != nil {
		s.mhub.Start()
	}

	s.log.Info("server started", "addr", addr.String(), "device", s.cfg.DeviceName)
	return nil
}

// pollHealth runs HealthMonitor's checks on a fixed interval and logs
// transitions, independent of the on-demand HealthChecker report callers
// pull via Health().
func (s *Server) pollHealth() {
	defer close(s.healthDone)
	ticker := time.NewTicker(s.healthMon.Interval())
	defer ticker.Stop()
	prev := make(map[string]bool)
	for {
		select {
		case <-s.healthStop:
			return
		case <-ticker.C:
			for name, healthy := range s.healthMon.CheckAll() {
				if prev[name] != healthy {
					s.log.Warn("subsystem health changed", "subsystem", name, "healthy", healthy)
				}
				prev[name] = healthy
			}
		}
	}
}

// watchListenerCrash restarts the TCP listener, with exponential backoff
// via RecoveryPolicy, whenever its accept loop exits unexpectedly (not as
// a result of Stop).
func (s *Server) watchListenerCrash() {
	s.mu.RLock()
	listener := s.listener
	s.mu.RUnlock()

	err, ok := <-listener.Crashed()
	if !ok {
		return
	}
	s.log.Warn("tcp listener crashed", "error", err)

	backoff, rerr := s.recovery.RecordFailure(tcpListenerName, err)
	if rerr != nil {
		s.log.Error("tcp listener recovery exhausted", "error", rerr)
		return
	}
	time.Sleep(backoff)

	s.mu.Lock()
	if s.listener != listener {
		s.mu.Unlock()
		return // superseded by a RestartServer or another recovery attempt
	}
	s.listener = transport.NewTCPListener(s.cfg.TCPAddr(), s.acceptConn)
	newListener := s.listener
	s.mu.Unlock()

	if err := newListener.Start(); err != nil {
		s.log.Error("tcp listener restart failed", "error", err)
		return
	}
	if rerr := s.recovery.RecordSuccess(tcpListenerName); rerr != nil {
		s.log.Warn("recovery record success failed", "error", rerr)
	}
	s.log.Info("tcp listener restarted", "addr", newListener.Addr().String())
	go s.watchListenerCrash()
}

// Stop tears down every running subsystem and clears the advertise flag.
// In-flight sessions are not interrupted; they complete or fail on their
// own. Calling Stop on a server that is already stopped does nothing more.
func (s *Server) Stop() error {
	s.advertise.Store(false)
	s.registry.mu.RLock()
	stopped := s.registry.closed
	s.registry.mu.RUnlock()
	if stopped {
		return nil
	}
	if s.cfg.BLEEnabled && s.bleServer != nil {
		if err := s.bleServer.StopServer(); err != nil {
			s.log.Warn("stop ble advertiser failed", "error", err)
		}
	}
	if s.healthStop != nil {
		if s.mhub != nil {
			s.mhub.Stop()
		}
		close(s.healthStop)
		<-s.healthDone
	}
	s.events.Close()
	if errs := s.registry.Stop(); len(errs) > 0 {
		return fmt.Errorf("orchestrator: stop: %w", errors.Join(errs...))
	}
	return nil
}

// RestartServer stops and restarts every subsystem, re-reading current
// device/advertise state. Useful after a platform connectivity change
// (e.g. Wi-Fi interface flapped) invalidates the bound listener address.
func (s *Server) RestartServer() error {
	advertise := s.advertise.Load()
	if err := s.Stop(); err != nil {
		return err
	}
	s.advertise.Store(advertise)
	if s.cfg.Metrics {
		s.mhub = newMetricsHub(s.cfg.MetricsAddr, s.cfg.MetricsReportInterval, s.log)
	}
	s.events = NewEventBus(32)
	s.registry = NewServiceRegistry(32)
	s.recovery = NewRecoveryPolicy()
	if err := s.recovery.Register(tcpListenerName, DefaultRecoveryConfig()); err != nil {
		return fmt.Errorf("orchestrator: register recovery policy: %w", err)
	}
	s.health = NewHealthChecker()
	s.healthMon = NewHealthMonitor(15 * time.Second)
	return s.Start()
}

// ChangeDevice updates the advertised device identity.
func (s *Server) ChangeDevice(name string, deviceType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device.Name = name
	s.device.DeviceType = parseDeviceType(deviceType)
	s.events.Publish(EventMediumUpdated, s.device)
}

// SetTCPDetails overrides the advertised TCP connection details, e.g. when
// the platform learns its externally-reachable address out of band.
func (s *Server) SetTCPDetails(hostname string, port uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tcp = &wire.TCPConnectionDetails{Hostname: hostname, Port: port}
}

// SetBLEDetails sets (or, with a zero value, clears) the advertised BLE
// connection details.
func (s *Server) SetBLEDetails(uuid string, psm uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uuid == "" {
		s.ble = nil
		return
	}
	s.ble = &wire.BLEConnectionDetails{UUID: uuid, PSM: psm}
}

// SetAdvertise toggles whether GetAdvertisementBytes returns a populated
// advertisement.
func (s *Server) SetAdvertise(advertise bool) {
	s.advertise.Store(advertise)
}

// GetAdvertisementBytes returns the codec-framed discovery message for the
// local device, or an empty slice if advertising is currently disabled.
func (s *Server) GetAdvertisementBytes() []byte {
	if !s.advertise.Load() {
		return nil
	}
	s.mu.RLock()
	info := wire.DeviceConnectionInfo{Device: s.device, TCP: s.tcp, BLE: s.ble}
	s.mu.RUnlock()

	s.count(metrics.AdvertisementsSent)
	msg := wire.DeviceDiscoveryMessage{ConnectionInfo: &info}
	return msg.Marshal()
}

// SendFiles sends paths to peer, reporting progress to progress (which may
// be nil). It blocks until the transfer finishes, is declined, or fails.
func (s *Server) SendFiles(ctx context.Context, peer wire.DeviceConnectionInfo, paths []string, progress session.ProgressDelegate) error {
	s.mu.RLock()
	self := s.device
	s.mu.RUnlock()

	s.events.PublishAsync(EventSessionRequested, peer.Device.Name)
	s.count(metrics.SessionsStarted)
	start := time.Now()
	bytesBefore := metrics.BytesSent.Value()
	wrapped := &meteredProgress{inner: progress, server: s}
	err := session.SendFiles(ctx, s.selector, self, peer, paths, s.cfg.TmpDir(), wrapped)
	if s.mhub != nil {
		metrics.SessionDuration.Observe(float64(time.Since(start).Milliseconds()))
		s.mhub.sessions.Mark(1)
		s.mhub.bytes.Mark(metrics.BytesSent.Value() - bytesBefore)
	}
	switch {
	case err == nil:
		s.count(metrics.SessionsFinished)
		s.events.PublishAsync(EventSessionFinished, peer.Device.Name)
	case errors.Is(err, session.ErrDeclined):
		s.count(metrics.SessionsDeclined)
		s.events.PublishAsync(EventSessionDeclined, peer.Device.Name)
	default:
		s.count(metrics.SessionsCancelled)
		s.events.PublishAsync(EventSessionCancelled, peer.Device.Name)
	}
	return err
}

// meteredProgress forwards progress notifications to the caller's delegate
// (if any) while updating the server's metrics registry and medium event
// on the side.
type meteredProgress struct {
	inner  session.ProgressDelegate
	server *Server
}

func (m *meteredProgress) ProgressChanged(state session.ProgressState) {
	if state.Kind == session.ProgressMediumUpdate {
		m.server.events.PublishAsync(EventMediumUpdated, state.Medium.String())
		if m.server.metricsOn {
			switch state.Medium {
			case transport.MediumWiFi:
				metrics.MediumWiFiSelected.Inc()
			case transport.MediumBLE:
				metrics.MediumBLESelected.Inc()
			}
		}
	}
	if m.inner != nil {
		m.inner.ProgressChanged(state)
	}
}

// HandleIncomingBLEConnection resolves a pending outbound BLE connection
// attempt once the platform has established the L2CAP socket. It has no
// effect if connectionID has no matching pending attempt.
func (s *Server) HandleIncomingBLEConnection(connectionID string, stream net.Conn) {
	s.selector.HandleIncomingBLEConnection(connectionID, stream)
}

// HandleIncomingConnection runs the responder session over a connection
// accepted by the platform's own BLE GATT/L2CAP server (as opposed to one
// accepted by this process's own TCP listener, which acceptConn already
// handles). Exposed so a platform BLE server delegate can hand off freshly
// accepted peer connections the same way the TCP listener does internally.
// Once Stop has run, raw is closed without starting a session.
func (s *Server) HandleIncomingConnection(raw net.Conn) {
	s.registry.mu.RLock()
	stopped := s.registry.closed
	s.registry.mu.RUnlock()
	if stopped {
		raw.Close()
		return
	}
	s.acceptConn(raw)
}

func (s *Server) acceptConn(conn net.Conn) {
	s.events.PublishAsync(EventConnectionOpened, conn.RemoteAddr().String())
	bytesBefore := metrics.BytesReceived.Value()
	err := session.HandleIncoming(conn, s.cfg.ReceivedDir(), s.connDelegate)
	if s.mhub != nil {
		s.mhub.sessions.Mark(1)
		s.mhub.bytes.Mark(metrics.BytesReceived.Value() - bytesBefore)
	}
	switch {
	case err == nil:
		s.count(metrics.SessionsReceived)
	case errors.Is(err, session.ErrDeclined):
		s.count(metrics.SessionsDeclinedInbound)
	default:
		s.count(metrics.SessionsFailed)
		s.log.Warn("session ended with error", "error", err)
	}
	s.events.PublishAsync(EventConnectionClosed, conn.RemoteAddr().String())
}

// localIPv4 returns the first non-loopback IPv4 address bound to any local
// interface, or "" if none is found. Used to turn an any-interfaces TCP
// listener (":0") into a routable advertised hostname.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// Events returns the orchestrator's event bus for in-process observers
// (metrics, logging bridges, UI updates) beyond the delegate contracts.
func (s *Server) Events() *EventBus {
	return s.events
}
