package ws

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Frame encodings a client can ask for with ?encoding=.
const (
	encodingJSON  = "json"
	encodingProto = "proto"
)

// protoFrame re-encodes a JSON envelope as a binary google.protobuf.Struct.
// Clients decode it with any protobuf runtime using the well-known type.
func protoFrame(envelope []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(envelope, &fields); err != nil {
		return nil, fmt.Errorf("ws: decode envelope: %w", err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("ws: build struct: %w", err)
	}
	data, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("ws: marshal struct: %w", err)
	}
	return data, nil
}
