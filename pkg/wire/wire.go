// Package wire defines the demo payload exchanged by the quicknet binaries.
// The session core carries it as opaque bytes; only the endpoints decode it.
package wire

import (
	"fmt"
	"time"

	"github.com/KevinMorrison-629/QuickNet/pkg/codec"
)

// Message is one chat-style exchange unit.
type Message struct {
	Version uint32 `cbor:"ver" json:"ver"`
	Sender  string `cbor:"sender" json:"sender"`
	Text    string `cbor:"text" json:"text"`
	SentAt  int64  `cbor:"ts_unix_ms" json:"ts_unix_ms"`
}

// NewMessage stamps a message from sender with the current time.
func NewMessage(sender, text string) Message {
	return Message{Version: 1, Sender: sender, Text: text, SentAt: time.Now().UnixMilli()}
}

// wireCodec is built once; codec.CBOR only fails on invalid options, which
// would be a programming error here.
var wireCodec = func() codec.Codec {
	c, err := codec.CBOR()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor codec: %v", err))
	}
	return c
}()

// Encode marshals m with canonical CBOR.
func Encode(m Message) ([]byte, error) {
	return wireCodec.Marshal(m)
}

// Decode unmarshals a CBOR-encoded message.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := wireCodec.Unmarshal(payload, &m); err != nil {
		return Message{}, fmt.Errorf("wire: decode: %w", err)
	}
	return m, nil
}
