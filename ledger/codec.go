package ledger

import "encoding/json"

// JSONCodec is the default codec: plain JSON of the value type. Protocol
// layers with richer needs (tagged unions) provide their own Codec.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Decode(raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}
