package metrics

// Pre-defined metrics for the nearby-share daemon. All metrics live in
// DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Session lifecycle metrics ----

	// SessionsStarted counts outgoing transfer sessions initiated.
	SessionsStarted = DefaultRegistry.Counter("sessions.started")
	// SessionsFinished counts sessions that completed successfully.
	SessionsFinished = DefaultRegistry.Counter("sessions.finished")
	// SessionsDeclined counts sessions the receiving peer rejected.
	SessionsDeclined = DefaultRegistry.Counter("sessions.declined")
	// SessionsCancelled counts sessions aborted mid-transfer.
	SessionsCancelled = DefaultRegistry.Counter("sessions.cancelled")
	// SessionsReceived counts incoming transfer sessions accepted.
	SessionsReceived = DefaultRegistry.Counter("sessions.received")
	// SessionsDeclinedInbound counts incoming transfer requests this device
	// rejected.
	SessionsDeclinedInbound = DefaultRegistry.Counter("sessions.declined_inbound")
	// SessionsFailed counts incoming sessions that ended in an error other
	// than a decline.
	SessionsFailed = DefaultRegistry.Counter("sessions.failed")
	// SessionDuration records session wall-clock duration in milliseconds.
	SessionDuration = DefaultRegistry.Histogram("sessions.duration_ms")

	// ---- Transfer metrics ----

	// BytesSent counts payload bytes written to outgoing sessions.
	BytesSent = DefaultRegistry.Counter("transfer.bytes_sent")
	// BytesReceived counts payload bytes read from incoming sessions.
	BytesReceived = DefaultRegistry.Counter("transfer.bytes_received")
	// ArchiveBuildTime records archive construction duration in milliseconds.
	ArchiveBuildTime = DefaultRegistry.Histogram("transfer.archive_build_ms")

	// ---- Discovery and transport metrics ----

	// DevicesDiscovered tracks the current number of nearby devices seen.
	DevicesDiscovered = DefaultRegistry.Gauge("discovery.devices_nearby")
	// AdvertisementsSent counts discovery advertisement broadcasts.
	AdvertisementsSent = DefaultRegistry.Counter("discovery.advertisements_sent")
	// MediumWiFiSelected counts sessions that connected over TCP/Wi-Fi.
	MediumWiFiSelected = DefaultRegistry.Counter("transport.medium_wifi")
	// MediumBLESelected counts sessions that connected over BLE.
	MediumBLESelected = DefaultRegistry.Counter("transport.medium_ble")
	// ConnectionFailures counts transport connect attempts that failed.
	ConnectionFailures = DefaultRegistry.Counter("transport.connection_failures")

	// ---- Handshake metrics ----

	// HandshakesCompleted counts X25519 handshakes that derived a session key.
	HandshakesCompleted = DefaultRegistry.Counter("handshake.completed")
	// HandshakesFailed counts handshakes aborted (timeout, bad key, degenerate secret).
	HandshakesFailed = DefaultRegistry.Counter("handshake.failed")
	// HandshakeLatency records handshake duration in milliseconds.
	HandshakeLatency = DefaultRegistry.Histogram("handshake.latency_ms")
)
