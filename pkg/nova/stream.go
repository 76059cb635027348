package nova

import "context"

// Stream is one bidirectional byte-stream session with the speech model.
// Payloads are opaque to the transport; this package puts JSON event
// envelopes on the wire.
//
// A Stream is owned by exactly one [Session]. Implementations do not need
// to be safe for concurrent Send calls; the Session serializes emission.
type Stream interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener establishes streams. The production implementation is
// [BedrockOpener]; tests substitute in-memory fakes.
type Opener interface {
	Open(ctx context.Context, modelID string) (Stream, error)
}
