// Package codec wraps fxamacker/cbor with the deterministic settings used
// for tree snapshots. The same snapshot always encodes to identical bytes.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// any-typed targets decode maps as map[string]any so results
		// stay interchangeable with encoding/json output.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding (RFC 8949 §4.2).
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

type Encoder = cbor.Encoder

func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// Diagnose returns RFC 8949 diagnostic notation for data.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
