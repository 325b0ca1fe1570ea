package rpc

import "encoding/json"

// jsonCodec marshals RPC messages as JSON. The instrument API ships no Go
// protobuf bindings, so the wire structs in this package are encoded
// through the grpc codec seam instead of generated stubs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }
