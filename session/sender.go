package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/InterShare/InterShareSDK/archive"
	"github.com/InterShare/InterShareSDK/handshake"
	"github.com/InterShare/InterShareSDK/metrics"
	"github.com/InterShare/InterShareSDK/transport"
	"github.com/InterShare/InterShareSDK/wire"
)

// chunkSize bounds a single Transferring-phase write; it is not wire
// visible and exists purely to give progress reporting a granularity
// finer than "the whole archive at once".
const chunkSize = 1024

// SendFiles runs the sender path of a session: connect to peer via
// selector, perform the initiator handshake, build an archive of paths,
// send a TransferRequest and wait for the peer's decision, then stream the
// archive if accepted. progress may be nil, in which case notifications
// are discarded.
//
// It returns ErrDeclined if the peer rejected the transfer; any other
// non-nil error is a connection, handshake, or transfer fault.
func SendFiles(ctx context.Context, sel *transport.Selector, self wire.Device, peer wire.DeviceConnectionInfo, paths []string, tmpDir string, progress ProgressDelegate) error {
	if progress == nil {
		progress = noopProgressDelegate{}
	}

	progress.ProgressChanged(ProgressState{Kind: ProgressConnecting})
	raw, medium, err := sel.Connect(ctx, peer)
	if err != nil {
		progress.ProgressChanged(ProgressState{Kind: ProgressUnknown})
		return fmt.Errorf("session: connect: %w", err)
	}

	result, err := handshake.Initiate(raw)
	if err != nil {
		raw.Close()
		progress.ProgressChanged(ProgressState{Kind: ProgressUnknown})
		return fmt.Errorf("session: initiator handshake: %w", err)
	}
	stream, err := result.Wrap(raw)
	if err != nil {
		raw.Close()
		progress.ProgressChanged(ProgressState{Kind: ProgressUnknown})
		return fmt.Errorf("session: wrap encrypted stream: %w", err)
	}
	defer stream.Close()

	progress.ProgressChanged(ProgressState{Kind: ProgressMediumUpdate, Medium: medium})

	progress.ProgressChanged(ProgressState{Kind: ProgressCompressing})
	buildStart := time.Now()
	built, err := archive.Build(paths, tmpDir)
	metrics.ArchiveBuildTime.Observe(float64(time.Since(buildStart).Milliseconds()))
	if err != nil {
		progress.ProgressChanged(ProgressState{Kind: ProgressUnknown})
		return fmt.Errorf("session: build archive: %w", err)
	}
	defer built.Close()

	fileName := ""
	if len(paths) == 1 {
		fileName = filepath.Base(filepath.Clean(paths[0]))
	}

	progress.ProgressChanged(ProgressState{Kind: ProgressRequesting})
	req := wire.TransferRequest{
		Sender:    self,
		Intent:    wire.IntentFileTransfer,
		FileName:  fileName,
		FileSize:  uint64(built.Size),
		FileCount: uint64(len(paths)),
	}
	if err := wire.Send(stream, &req); err != nil {
		progress.ProgressChanged(ProgressState{Kind: ProgressUnknown})
		return fmt.Errorf("session: send transfer request: %w", err)
	}

	var resp wire.TransferRequestResponse
	if err := wire.Recv(stream, &resp); err != nil {
		progress.ProgressChanged(ProgressState{Kind: ProgressUnknown})
		return fmt.Errorf("%w: %v", ErrTransferRequestResponseFailed, err)
	}
	if !resp.Accepted {
		progress.ProgressChanged(ProgressState{Kind: ProgressDeclined})
		return ErrDeclined
	}

	written, err := sendPayload(stream, built, progress)
	metrics.BytesSent.Add(written)
	if err != nil {
		progress.ProgressChanged(ProgressState{Kind: ProgressCancelled})
		return fmt.Errorf("session: send payload: %w", err)
	}
	if written < built.Size {
		progress.ProgressChanged(ProgressState{Kind: ProgressCancelled})
		return fmt.Errorf("session: incomplete payload: sent %d of %d bytes", written, built.Size)
	}

	progress.ProgressChanged(ProgressState{Kind: ProgressFinished})
	return nil
}

// sendPayload streams built's contents to w in chunkSize pieces, reporting
// progress after each successful write.
func sendPayload(w io.Writer, built *archive.Built, progress ProgressDelegate) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		n, readErr := built.File.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if built.Size > 0 {
				progress.ProgressChanged(ProgressState{
					Kind:     ProgressTransferring,
					Progress: float64(written) / float64(built.Size),
				})
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
