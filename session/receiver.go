package session

import (
	"fmt"
	"io"

	"github.com/InterShare/InterShareSDK/handshake"
	"github.com/InterShare/InterShareSDK/log"
	"github.com/InterShare/InterShareSDK/wire"
)

var sessionLog = log.Default().Module("session")

// ConnectionDelegate is notified of an incoming transfer request. It runs
// on its own goroutine per connection, so it may block (e.g. to prompt a
// user) without holding up other sessions.
type ConnectionDelegate interface {
	ReceivedConnectionRequest(req *ConnectionRequest)
}

// HandleIncoming runs the responder side of a session on a freshly
// accepted raw connection: perform the handshake, read the peer's
// TransferRequest, and hand a ConnectionRequest to delegate. It returns
// once the delegate has made its decision and the transfer (if accepted)
// has finished, so callers typically invoke it in its own goroutine per
// accepted connection.
func HandleIncoming(raw io.ReadWriteCloser, destDir string, delegate ConnectionDelegate) error {
	result, err := handshake.Respond(raw)
	if err != nil {
		raw.Close()
		return fmt.Errorf("session: responder handshake: %w", err)
	}

	stream, err := result.Wrap(raw)
	if err != nil {
		raw.Close()
		return fmt.Errorf("session: wrap encrypted stream: %w", err)
	}

	var req wire.TransferRequest
	if err := wire.Recv(stream, &req); err != nil {
		stream.Close()
		return fmt.Errorf("session: receive transfer request: %w", err)
	}

	cr := newConnectionRequest(req, stream, destDir)
	sessionLog.Info("received transfer request",
		"sender", req.Sender.Name, "file_name", req.FileName,
		"file_size", req.FileSize, "file_count", req.FileCount)

	delegate.ReceivedConnectionRequest(cr)
	return cr.Result()
}
