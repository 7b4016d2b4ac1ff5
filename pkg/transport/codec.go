package transport

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered with google.golang.org/grpc/encoding so the
// Transport service can marshal Envelopes as JSON instead of protobuf —
// the teacher's own api/proto generated package wasn't present in the
// retrieved pack, so this service is hand-registered rather than
// generated.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
