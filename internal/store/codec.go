package store

import (
	"github.com/fxamacker/cbor/v2"
)

// Records are stored as compact CBOR with integer field keys. Unknown
// fields are ignored on decode and absent fields take their zero values,
// which keeps the on-disk format forward and backward compatible.
// Timestamps are written as RFC 3339 text with nanoseconds, so they decode
// to exactly the instant that was encoded.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeUnixMicro}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

func encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return &SerializationError{Err: err}
	}
	return nil
}
