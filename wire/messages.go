package wire

import "fmt"

// DeviceType identifies the platform class of a Device.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeMobile
	DeviceTypeDesktop
	DeviceTypeHeadless
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeMobile:
		return "mobile"
	case DeviceTypeDesktop:
		return "desktop"
	case DeviceTypeHeadless:
		return "headless"
	default:
		return "unknown"
	}
}

// Device identifies a peer advertising or receiving a transfer.
type Device struct {
	ID         string
	Name       string
	DeviceType DeviceType
}

// Marshal encodes a Device as a length-delimited protobuf-wire-format message.
func (d *Device) Marshal() []byte {
	var buf []byte
	buf = putStringField(buf, 1, d.ID)
	buf = putStringField(buf, 2, d.Name)
	buf = putVarintField(buf, 3, uint64(d.DeviceType))
	return buf
}

// Unmarshal decodes a Device from its wire representation.
func (d *Device) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		switch fieldNum {
		case 1:
			d.ID = string(data)
		case 2:
			d.Name = string(data)
		case 3:
			d.DeviceType = DeviceType(v)
		}
		return nil
	})
}

// TCPConnectionDetails describes how to reach a peer over TCP.
type TCPConnectionDetails struct {
	Hostname string
	Port     uint32
}

// Marshal encodes TCPConnectionDetails.
func (t *TCPConnectionDetails) Marshal() []byte {
	var buf []byte
	buf = putStringField(buf, 1, t.Hostname)
	buf = putVarintField(buf, 2, uint64(t.Port))
	return buf
}

// Unmarshal decodes TCPConnectionDetails.
func (t *TCPConnectionDetails) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		switch fieldNum {
		case 1:
			t.Hostname = string(data)
		case 2:
			t.Port = uint32(v)
		}
		return nil
	})
}

// BLEConnectionDetails describes how to reach a peer over BLE L2CAP.
type BLEConnectionDetails struct {
	UUID string
	PSM  uint32
}

// Marshal encodes BLEConnectionDetails.
func (b *BLEConnectionDetails) Marshal() []byte {
	var buf []byte
	buf = putStringField(buf, 1, b.UUID)
	buf = putVarintField(buf, 2, uint64(b.PSM))
	return buf
}

// Unmarshal decodes BLEConnectionDetails.
func (b *BLEConnectionDetails) Unmarshal(data []byte) error {
	return decodeFields(data, func(fieldNum int, wireType uint64, v uint64, d []byte) error {
		switch fieldNum {
		case 1:
			b.UUID = string(d)
		case 2:
			b.PSM = uint32(v)
		}
		return nil
	})
}

// DeviceConnectionInfo is the full descriptor a discovery advertisement
// carries: the advertising Device plus however many transports it exposes.
type DeviceConnectionInfo struct {
	Device Device
	TCP    *TCPConnectionDetails // nil if not offered
	BLE    *BLEConnectionDetails // nil if not offered
}

// Marshal encodes DeviceConnectionInfo.
func (c *DeviceConnectionInfo) Marshal() []byte {
	var buf []byte
	buf = putBytesField(buf, 1, c.Device.Marshal())
	if c.TCP != nil {
		buf = putBytesField(buf, 2, c.TCP.Marshal())
	}
	if c.BLE != nil {
		buf = putBytesField(buf, 3, c.BLE.Marshal())
	}
	return buf
}

// Unmarshal decodes DeviceConnectionInfo.
func (c *DeviceConnectionInfo) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		switch fieldNum {
		case 1:
			return c.Device.Unmarshal(data)
		case 2:
			c.TCP = &TCPConnectionDetails{}
			return c.TCP.Unmarshal(data)
		case 3:
			c.BLE = &BLEConnectionDetails{}
			return c.BLE.Unmarshal(data)
		}
		return nil
	})
}

// EncryptionRequest is the first unencrypted frame sent by the initiator
// of a connection, carrying its ephemeral X25519 public key.
type EncryptionRequest struct {
	PublicKey [32]byte
}

// Marshal encodes EncryptionRequest.
func (r *EncryptionRequest) Marshal() []byte {
	return putBytesField(nil, 1, r.PublicKey[:])
}

// Unmarshal decodes EncryptionRequest.
func (r *EncryptionRequest) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		if fieldNum == 1 {
			if len(data) != 32 {
				return fmt.Errorf("%w: public_key must be 32 bytes, got %d", ErrMalformed, len(data))
			}
			copy(r.PublicKey[:], data)
		}
		return nil
	})
}

// EncryptionResponse answers an EncryptionRequest with the responder's
// ephemeral X25519 public key and the IV that seeds the encrypted stream.
type EncryptionResponse struct {
	PublicKey [32]byte
	IV        [24]byte
}

// Marshal encodes EncryptionResponse.
func (r *EncryptionResponse) Marshal() []byte {
	var buf []byte
	buf = putBytesField(buf, 1, r.PublicKey[:])
	buf = putBytesField(buf, 2, r.IV[:])
	return buf
}

// Unmarshal decodes EncryptionResponse.
func (r *EncryptionResponse) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		switch fieldNum {
		case 1:
			if len(data) != 32 {
				return fmt.Errorf("%w: public_key must be 32 bytes, got %d", ErrMalformed, len(data))
			}
			copy(r.PublicKey[:], data)
		case 2:
			if len(data) != 24 {
				return fmt.Errorf("%w: iv must be 24 bytes, got %d", ErrMalformed, len(data))
			}
			copy(r.IV[:], data)
		}
		return nil
	})
}

// TransferIntent distinguishes the kinds of payload a TransferRequest can
// announce. Only FileTransfer is implemented by the core; the oneOf is
// kept open for future intents (e.g. clipboard text) the way the original
// protocol reserves the field.
type TransferIntent int

const (
	IntentFileTransfer TransferIntent = iota
)

// TransferRequest is sent by the sender once the archive is built and its
// size known. file_name is set only when the request describes exactly one
// top-level path (whether that path is a file or a directory).
type TransferRequest struct {
	Sender    Device
	Intent    TransferIntent
	FileName  string // empty when FileCount != 1
	FileSize  uint64
	FileCount uint64
}

// Marshal encodes TransferRequest.
func (r *TransferRequest) Marshal() []byte {
	var buf []byte
	buf = putBytesField(buf, 1, r.Sender.Marshal())
	buf = putVarintField(buf, 2, uint64(r.Intent))
	if r.FileName != "" {
		buf = putStringField(buf, 3, r.FileName)
	}
	buf = putVarintField(buf, 4, r.FileSize)
	buf = putVarintField(buf, 5, r.FileCount)
	return buf
}

// Unmarshal decodes TransferRequest.
func (r *TransferRequest) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		switch fieldNum {
		case 1:
			return r.Sender.Unmarshal(data)
		case 2:
			r.Intent = TransferIntent(v)
		case 3:
			r.FileName = string(data)
		case 4:
			r.FileSize = v
		case 5:
			r.FileCount = v
		}
		return nil
	})
}

// TransferRequestResponse answers a TransferRequest with the receiving
// user's accept/reject decision.
type TransferRequestResponse struct {
	Accepted bool
}

// Marshal encodes TransferRequestResponse.
func (r *TransferRequestResponse) Marshal() []byte {
	var v uint64
	if r.Accepted {
		v = 1
	}
	return putVarintField(nil, 1, v)
}

// Unmarshal decodes TransferRequestResponse.
func (r *TransferRequestResponse) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		if fieldNum == 1 {
			r.Accepted = v != 0
		}
		return nil
	})
}

// DeviceDiscoveryMessage is the payload carried by the BLE GATT discovery
// characteristic and/or a UDP broadcast. A device that is not currently
// advertising full connection details may instead publish just its ID, to
// let scanners recognize it without exposing a connectable address.
type DeviceDiscoveryMessage struct {
	ConnectionInfo *DeviceConnectionInfo // set if advertising fully
	OfflineID      string                // set instead if only announcing presence
}

// Marshal encodes DeviceDiscoveryMessage.
func (m *DeviceDiscoveryMessage) Marshal() []byte {
	var buf []byte
	if m.ConnectionInfo != nil {
		buf = putBytesField(buf, 1, m.ConnectionInfo.Marshal())
	}
	if m.OfflineID != "" {
		buf = putStringField(buf, 2, m.OfflineID)
	}
	return buf
}

// Unmarshal decodes DeviceDiscoveryMessage.
func (m *DeviceDiscoveryMessage) Unmarshal(b []byte) error {
	return decodeFields(b, func(fieldNum int, wireType uint64, v uint64, data []byte) error {
		switch fieldNum {
		case 1:
			m.ConnectionInfo = &DeviceConnectionInfo{}
			return m.ConnectionInfo.Unmarshal(data)
		case 2:
			m.OfflineID = string(data)
		}
		return nil
	})
}
