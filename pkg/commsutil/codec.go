package commsutil

import (
	"context"
	"encoding/json"
	"fmt"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/market-agent/pkg/a2a"
)

const codecLogPrefix = "commsutil:codec"

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeResponse decodes an A2A response envelope.
func DecodeResponse(data []byte) (*a2a.Response, error) {
	var resp a2a.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%s - decode response: %w", codecLogPrefix, err)
	}
	return &resp, nil
}

// Call sends a raw JSON-RPC envelope on subject and waits for the reply.
func Call(ctx context.Context, nc *comms.Conn, subject string, envelope []byte) (*a2a.Response, error) {
	msg, err := nc.RequestWithContext(ctx, subject, envelope)
	if err != nil {
		return nil, fmt.Errorf("%s - request %s: %w", codecLogPrefix, subject, err)
	}
	return DecodeResponse(msg.Data)
}
