package tiercache

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Codec converts cached values to and from their serialized form.
// The serialized length is what the cache charges against its size budget and
// what it compares against the spill threshold.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSONCodec serializes values with encoding/json. It is the default codec.
type JSONCodec[V any] struct{}

// Marshal implements Codec.
func (JSONCodec[V]) Marshal(v V) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec.
func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// YAMLCodec serializes values as YAML documents.
type YAMLCodec[V any] struct{}

// Marshal implements Codec.
func (YAMLCodec[V]) Marshal(v V) ([]byte, error) {
	return yaml.Marshal(v)
}

// Unmarshal implements Codec.
func (YAMLCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := yaml.Unmarshal(data, &v)
	return v, err
}

// StringCodec stores strings as their raw bytes.
type StringCodec struct{}

// Marshal implements Codec.
func (StringCodec) Marshal(v string) ([]byte, error) { return []byte(v), nil }

// Unmarshal implements Codec.
func (StringCodec) Unmarshal(data []byte) (string, error) { return string(data), nil }

// BytesCodec stores byte slices unchanged. Both directions copy, so callers
// may reuse their buffers.
type BytesCodec struct{}

// Marshal implements Codec.
func (BytesCodec) Marshal(v []byte) ([]byte, error) {
	return append([]byte(nil), v...), nil
}

// Unmarshal implements Codec.
func (BytesCodec) Unmarshal(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}
