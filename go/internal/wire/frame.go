package wire

import "encoding/json"

// FrameOp is the operation of a gateway websocket frame.
type FrameOp string

const (
	OpSubscribe   FrameOp = "subscribe"   // client -> gateway
	OpUnsubscribe FrameOp = "unsubscribe" // client -> gateway
	OpPublish     FrameOp = "publish"     // client -> gateway
	OpMessage     FrameOp = "message"     // gateway -> client
	OpAck         FrameOp = "ack"         // gateway -> client, answers a frame carrying an ID
	OpError       FrameOp = "error"       // gateway -> client
)

// Frame is the unit exchanged between a websocket client and the gateway.
type Frame struct {
	Op      FrameOp         `json:"op"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Error   string          `json:"error,omitempty"`
}
