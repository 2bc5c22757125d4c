package codec

import (
	"fmt"

	"github.com/unkn0wn-root/docache/store"
)

// Normalized wraps a codec of records and normalizes every decoded record.
type Normalized struct {
	Inner Codec[[]store.Record]
}

func (c Normalized) Encode(recs []store.Record) ([]byte, error) { return c.Inner.Encode(recs) }
func (c Normalized) Decode(b []byte) ([]store.Record, error) {
	recs, err := c.Inner.Decode(b)
	if err != nil {
		return nil, err
	}
	for i, r := range recs {
		recs[i] = store.NormalizeRecord(r)
	}
	return recs, nil
}

// ForRecords returns the record codec registered under name: "json"
// (default), "msgpack", "cbor" or "protobuf". maxDecode > 0 caps payload size.
func ForRecords(name string, maxDecode int) (Codec[[]store.Record], error) {
	var inner Codec[[]store.Record]
	switch name {
	case "", "json":
		inner = Normalized{Inner: JSONCodec[[]store.Record]{}}
	case "msgpack":
		inner = Normalized{Inner: Msgpack[[]store.Record]{}}
	case "cbor":
		cb, err := NewCBOR[[]store.Record](false)
		if err != nil {
			return nil, err
		}
		inner = Normalized{Inner: cb}
	case "protobuf":
		inner = NewStructRecords()
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
	if maxDecode > 0 {
		return LimitCodec[[]store.Record]{Inner: inner, MaxDecode: maxDecode}, nil
	}
	return inner, nil
}
