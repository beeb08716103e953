// Package codec provides the (de)serializers used by byte-oriented store
// backends to persist store.Record values. Msgpack is the default; JSON is
// handy when entries must stay inspectable in the backend.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
