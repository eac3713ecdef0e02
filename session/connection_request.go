package session

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/InterShare/InterShareSDK/archive"
	"github.com/InterShare/InterShareSDK/metrics"
	"github.com/InterShare/InterShareSDK/wire"
)

// ConnectionRequest is handed to the application's ConnectionDelegate when
// a peer's TransferRequest arrives. The application decides Accept or
// Reject, typically after prompting the user; exactly one of the two may
// be called, and it may be called from any goroutine.
type ConnectionRequest struct {
	// Sender is the peer's advertised device.
	Sender wire.Device
	// FileName is set when the request describes exactly one top-level
	// path, whether a file or a directory.
	FileName string
	// FileSize is the number of payload bytes that will follow acceptance.
	FileSize uint64
	// FileCount is the number of top-level paths the sender is sending.
	FileCount uint64

	stream  io.ReadWriteCloser
	destDir string

	mu         sync.Mutex
	answered   bool
	resultErr  error
	resultDone chan struct{}
}

func newConnectionRequest(req wire.TransferRequest, stream io.ReadWriteCloser, destDir string) *ConnectionRequest {
	return &ConnectionRequest{
		Sender:     req.Sender,
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		FileCount:  req.FileCount,
		stream:     stream,
		destDir:    destDir,
		resultDone: make(chan struct{}),
	}
}

// finish records the final outcome once, unblocking any Result() callers.
func (r *ConnectionRequest) finish(err error) {
	r.resultErr = err
	close(r.resultDone)
}

// Accept tells the sender to proceed and reads exactly FileSize bytes of
// archive payload into destDir, unpacking it there. It blocks until the
// transfer completes or fails.
func (r *ConnectionRequest) Accept() error {
	if !r.markAnswered() {
		return ErrRejected
	}

	resp := wire.TransferRequestResponse{Accepted: true}
	if err := wire.Send(r.stream, &resp); err != nil {
		err = fmt.Errorf("session: send accept response: %w", err)
		r.finish(err)
		return err
	}

	err := r.receivePayload()
	r.finish(err)
	return err
}

// Reject tells the sender the transfer was declined and closes the
// connection.
func (r *ConnectionRequest) Reject() error {
	if !r.markAnswered() {
		return ErrRejected
	}

	resp := wire.TransferRequestResponse{Accepted: false}
	err := wire.Send(r.stream, &resp)
	r.stream.Close()
	r.finish(ErrDeclined)
	if err != nil {
		return fmt.Errorf("session: send reject response: %w", err)
	}
	return nil
}

// Result blocks until Accept or Reject has fully completed (including the
// payload transfer, if accepted) and returns its outcome. It may be called
// from multiple goroutines; every caller observes the same outcome.
func (r *ConnectionRequest) Result() error {
	<-r.resultDone
	return r.resultErr
}

func (r *ConnectionRequest) markAnswered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.answered {
		return false
	}
	r.answered = true
	return true
}

// receivePayload reads exactly FileSize bytes from the stream into a temp
// archive file, extracts it into destDir, and removes the temp file.
func (r *ConnectionRequest) receivePayload() error {
	defer r.stream.Close()

	tmp, err := os.CreateTemp(r.destDir, "incoming-*.zip")
	if err != nil {
		return fmt.Errorf("session: create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, err := io.CopyN(tmp, r.stream, int64(r.FileSize))
	metrics.BytesReceived.Add(written)
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("session: receive payload after %d/%d bytes: %w", written, r.FileSize, err)
	}
	if closeErr != nil {
		return fmt.Errorf("session: close temp archive: %w", closeErr)
	}
	if uint64(written) != r.FileSize {
		return fmt.Errorf("session: incomplete payload: got %d of %d bytes", written, r.FileSize)
	}

	if err := archive.Extract(tmpPath, r.destDir); err != nil {
		return fmt.Errorf("session: extract received archive: %w", err)
	}
	return nil
}
