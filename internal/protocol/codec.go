package protocol

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes protocol messages. The host and plugins agree on one
// binary codec; Negotiate exists so alternate codecs can be added without
// touching the envelope shapes.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

var (
	// Msgpack is the default binary codec.
	Msgpack Codec = msgpackCodec{}
	// JSON is the text fallback codec.
	JSON Codec = jsonCodec{}
)

// Negotiate picks the codec for a requested protocol name. Anything other
// than an explicit "json" resolves to the binary default.
func Negotiate(requested string) Codec {
	if requested == JSON.Name() {
		return JSON
	}
	return Msgpack
}
