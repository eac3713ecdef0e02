// Package cryptostream wraps an arbitrary byte-oriented connection with a
// streaming AEAD cipher once a shared secret has been agreed by the
// handshake package. It generalizes the AES-CTR-plus-HMAC approach the
// reference transport layer used for its own (explicitly "simplified from
// the full" key exchange) framed cipher, replacing the two hand-assembled
// primitives with a single modern AEAD construction and a
// counter-derived per-chunk nonce so the same IV is never reused.
package cryptostream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChunkSize bounds how much plaintext a single sealed chunk carries. Each
// chunk gets its own AEAD tag, so a corrupted byte only ever invalidates
// one chunk's worth of data rather than the whole session.
const ChunkSize = 64 * 1024

// KeySize is the length in bytes of the shared secret derived by the
// handshake.
const KeySize = chacha20poly1305.KeySize // 32

// NonceSize is the length in bytes of the session IV exchanged during the
// handshake.
const NonceSize = chacha20poly1305.NonceSizeX // 24

// ErrStreamBroken is the sticky error returned by Read after any AEAD
// authentication failure; the stream must not be used again once seen.
var ErrStreamBroken = errors.New("cryptostream: authentication failed, stream is broken")

// Stream is a full-duplex encrypted view over an underlying
// io.ReadWriteCloser. Reads and writes use independent chunk counters, so
// a Stream is safe for one concurrent reader and one concurrent writer
// (but not for concurrent readers, nor concurrent writers).
type Stream struct {
	inner io.ReadWriteCloser
	aead  interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
	baseNonce [NonceSize]byte

	wmu        sync.Mutex
	writeCount uint64

	rmu       sync.Mutex
	readCount uint64
	readBuf   []byte // leftover decrypted bytes not yet consumed by Read
	broken    bool

	writeTag byte
	readTag  byte
}

// directionInitiator and directionResponder tag which peer produced a
// chunk. Both peers share the same IV (it travels once, in the
// EncryptionResponse), so without a per-role tag the initiator's first
// chunk and the responder's first chunk would seal under an identical
// nonce. Tagging each direction with the handshake role it came from
// keeps the two keystreams disjoint for the life of the session.
const (
	directionInitiator byte = 'I'
	directionResponder byte = 'R'
)

// New wraps inner with an AEAD stream derived from sharedSecret and iv.
// Both peers must supply the same sharedSecret and iv (the IV carried in
// the EncryptionResponse). isInitiator must be true on the peer that sent
// the EncryptionRequest and false on the peer that answered it; this is
// what lets the two directions derive disjoint nonces from a single
// shared IV.
func New(sharedSecret [KeySize]byte, iv [NonceSize]byte, inner io.ReadWriteCloser, isInitiator bool) (*Stream, error) {
	aead, err := chacha20poly1305.NewX(sharedSecret[:])
	if err != nil {
		return nil, fmt.Errorf("cryptostream: init aead: %w", err)
	}
	s := &Stream{inner: inner, aead: aead, baseNonce: iv}
	if isInitiator {
		s.writeTag = directionInitiator
		s.readTag = directionResponder
	} else {
		s.writeTag = directionResponder
		s.readTag = directionInitiator
	}
	return s, nil
}

// nonceFor derives the nonce for a chunk counter and direction tag by
// XORing an 8-byte little-endian counter, combined with a 1-byte
// direction discriminant, into the low bytes of the session IV.
func (s *Stream) nonceFor(counter uint64, direction byte) []byte {
	nonce := s.baseNonce
	var ctrBuf [8]byte
	binary.LittleEndian.PutUint64(ctrBuf[:], counter)
	for i := 0; i < 8; i++ {
		nonce[i] ^= ctrBuf[i]
	}
	nonce[8] ^= direction
	out := make([]byte, NonceSize)
	copy(out, nonce[:])
	return out
}

// Write encrypts p in ChunkSize-bounded pieces and writes each as a
// length-prefixed sealed chunk to the underlying stream.
func (s *Stream) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > ChunkSize {
			n = ChunkSize
		}
		chunk := p[:n]
		p = p[n:]

		nonce := s.nonceFor(s.writeCount, s.writeTag)
		s.writeCount++

		sealed := s.aead.Seal(nil, nonce, chunk, nil)

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
		if _, err := s.inner.Write(lenBuf[:]); err != nil {
			return total, fmt.Errorf("cryptostream: write chunk length: %w", err)
		}
		if _, err := s.inner.Write(sealed); err != nil {
			return total, fmt.Errorf("cryptostream: write chunk: %w", err)
		}
		total += n
	}
	return total, nil
}

// Read decrypts chunks from the underlying stream as needed to satisfy p.
func (s *Stream) Read(p []byte) (int, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	if s.broken {
		return 0, ErrStreamBroken
	}

	if len(s.readBuf) == 0 {
		if err := s.fillReadBuf(); err != nil {
			return 0, err
		}
	}

	n := copy(p, s.readBuf)
	s.readBuf = s.readBuf[n:]
	return n, nil
}

// fillReadBuf reads and decrypts the next chunk into s.readBuf. Caller
// must hold s.rmu.
func (s *Stream) fillReadBuf() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(s.inner, lenBuf[:]); err != nil {
		return err
	}
	chunkLen := binary.BigEndian.Uint32(lenBuf[:])
	if chunkLen > ChunkSize+uint32(chacha20poly1305.Overhead) {
		s.broken = true
		return fmt.Errorf("%w: chunk too large (%d bytes)", ErrStreamBroken, chunkLen)
	}

	sealed := make([]byte, chunkLen)
	if _, err := io.ReadFull(s.inner, sealed); err != nil {
		return err
	}

	nonce := s.nonceFor(s.readCount, s.readTag)
	s.readCount++

	plain, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		s.broken = true
		return fmt.Errorf("%w: %v", ErrStreamBroken, err)
	}
	s.readBuf = plain
	return nil
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	return s.inner.Close()
}
