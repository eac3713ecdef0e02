package session

import "errors"

// Error kinds surfaced by this package, matched with errors.Is.
var (
	// ErrDeclined is returned by SendFiles when the receiving peer's user
	// rejected the TransferRequest. It is not a fault.
	ErrDeclined = errors.New("session: peer declined the transfer")

	// ErrRejected is the receiver-side counterpart: returned from
	// accept/reject bookkeeping when a ConnectionRequest is used after its
	// decision has already been made.
	ErrRejected = errors.New("session: connection request already answered")

	// ErrInvalidProtocolVersion is reserved for a future version frame;
	// the current wire protocol has none, so this is never produced by
	// this implementation, but remains available for callers that want a
	// stable sentinel to check for once one is added.
	ErrInvalidProtocolVersion = errors.New("session: invalid protocol version")

	// ErrTransferRequestResponseFailed marks an I/O or decode failure
	// while waiting for the peer's TransferRequestResponse.
	ErrTransferRequestResponseFailed = errors.New("session: failed to receive transfer request response")
)
