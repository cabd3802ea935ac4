package ws

import (
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/auralyze/internal/stream"
)

// Subprotocols offered during the upgrade. A client that requests none gets
// JSON.
const (
	SubprotocolJSON    = "auralyze.json.v1"
	SubprotocolMsgpack = "auralyze.msgpack.v1"
)

// codec serialises outbound messages for one subprotocol.
type codec struct {
	frame   websocket.MessageType
	marshal func(v any) ([]byte, error)
}

var (
	jsonCodec    = codec{frame: websocket.MessageText, marshal: json.Marshal}
	msgpackCodec = codec{frame: websocket.MessageBinary, marshal: msgpack.Marshal}
)

// codecFor returns the codec negotiated by subprotocol.
func codecFor(subprotocol string) codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec
	}
	return jsonCodec
}

func (c codec) encode(msg stream.Message) ([]byte, error) {
	return c.marshal(msg.Wire())
}
