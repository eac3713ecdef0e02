package handshake

import (
	"bytes"
	"net"
	"testing"
)

func TestHandshakeDerivesMatchingSecrets(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type outcome struct {
		res *Result
		err error
	}
	initCh := make(chan outcome, 1)
	respCh := make(chan outcome, 1)

	go func() {
		res, err := Initiate(a)
		initCh <- outcome{res, err}
	}()
	go func() {
		res, err := Respond(b)
		respCh <- outcome{res, err}
	}()

	initOut := <-initCh
	respOut := <-respCh

	if initOut.err != nil {
		t.Fatalf("initiate: %v", initOut.err)
	}
	if respOut.err != nil {
		t.Fatalf("respond: %v", respOut.err)
	}

	if initOut.res.SharedSecret != respOut.res.SharedSecret {
		t.Errorf("shared secrets differ: %x vs %x", initOut.res.SharedSecret, respOut.res.SharedSecret)
	}
	if initOut.res.IV != respOut.res.IV {
		t.Errorf("ivs differ: %x vs %x", initOut.res.IV, respOut.res.IV)
	}
	if !initOut.res.IsInitiator {
		t.Error("initiator result should have IsInitiator = true")
	}
	if respOut.res.IsInitiator {
		t.Error("responder result should have IsInitiator = false")
	}
}

func TestHandshakeWrapsMatchingEncryptedStreams(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	type outcome struct {
		res *Result
		err error
	}
	initCh := make(chan outcome, 1)
	respCh := make(chan outcome, 1)

	go func() {
		res, err := Initiate(a)
		initCh <- outcome{res, err}
	}()
	go func() {
		res, err := Respond(b)
		respCh <- outcome{res, err}
	}()

	initOut := <-initCh
	respOut := <-respCh
	if initOut.err != nil || respOut.err != nil {
		t.Fatalf("handshake failed: init=%v resp=%v", initOut.err, respOut.err)
	}

	// The raw net.Pipe conns are exhausted as unencrypted streams now;
	// exercise Wrap against a fresh in-memory pipe to check both sides
	// derive a cipher that can talk to each other.
	rawA, rawB := net.Pipe()
	defer rawA.Close()
	defer rawB.Close()

	streamA, err := initOut.res.Wrap(rawA)
	if err != nil {
		t.Fatalf("wrap initiator: %v", err)
	}
	streamB, err := respOut.res.Wrap(rawB)
	if err != nil {
		t.Fatalf("wrap responder: %v", err)
	}

	want := []byte("secret payload")
	go streamA.Write(want)

	got := make([]byte, len(want))
	if _, err := readFull(streamB, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
