package altcodec

import (
	"bytes"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"
)

var cborEnc cbor.EncMode

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
}

func rawMembers[R ~[]byte](unmarshal func([]byte, any) error) func([]byte) (map[string][]byte, error) {
	return func(b []byte) (map[string][]byte, error) {
		var m map[string]R
		if err := unmarshal(b, &m); err != nil {
			return nil, err
		}
		out := make(map[string][]byte, len(m))
		for k, v := range m {
			out[k] = []byte(v)
		}
		return out, nil
	}
}

func rawElements[R ~[]byte](unmarshal func([]byte, any) error) func([]byte) ([][]byte, error) {
	return func(b []byte) ([][]byte, error) {
		var list []R
		if err := unmarshal(b, &list); err != nil {
			return nil, err
		}
		out := make([][]byte, len(list))
		for i, v := range list {
			out[i] = []byte(v)
		}
		return out, nil
	}
}

// JSON returns a codec for JSON objects keyed by field name.
func JSON(p Presence) *Codec {
	return &Codec{Presence: p, f: format{
		name:      "json",
		marshal:   json.Marshal,
		unmarshal: json.Unmarshal,
		members:   rawMembers[json.RawMessage](json.Unmarshal),
		elements:  rawElements[json.RawMessage](json.Unmarshal),
		isNull: func(b []byte) bool {
			return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
		},
	}}
}

// CBOR returns a codec for CBOR maps keyed by field name, encoded deterministically.
func CBOR(p Presence) *Codec {
	return &Codec{Presence: p, f: format{
		name:      "cbor",
		marshal:   cborEnc.Marshal,
		unmarshal: cbor.Unmarshal,
		members:   rawMembers[cbor.RawMessage](cbor.Unmarshal),
		elements:  rawElements[cbor.RawMessage](cbor.Unmarshal),
		isNull: func(b []byte) bool {
			// null or undefined
			return len(b) == 1 && (b[0] == 0xf6 || b[0] == 0xf7)
		},
	}}
}
