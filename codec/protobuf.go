package codec

import (
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/unkn0wn-root/docache/store"
)

type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message, e.g. func() *structpb.ListValue
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

// StructRecords carries records as a google.protobuf.ListValue of Structs.
// Struct numbers are doubles: whole numbers decode as int64 and every other
// number as float64, so a REAL column holding 4.0 comes back as int64(4).
type StructRecords struct {
	pb Protobuf[*structpb.ListValue]
}

func NewStructRecords() StructRecords {
	return StructRecords{pb: NewProtobuf(func() *structpb.ListValue { return &structpb.ListValue{} })}
}

func (c StructRecords) Encode(recs []store.Record) ([]byte, error) {
	items := make([]any, len(recs))
	for i, r := range recs {
		items[i] = store.Normalize(map[string]any(r))
	}
	lv, err := structpb.NewList(items)
	if err != nil {
		return nil, err
	}
	return c.pb.Encode(lv)
}

func (c StructRecords) Decode(b []byte) ([]store.Record, error) {
	lv, err := c.pb.Decode(b)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(lv.GetValues()))
	for _, v := range lv.GetValues() {
		m, _ := narrow(v.AsInterface()).(map[string]any)
		out = append(out, store.Record(m))
	}
	return out, nil
}

func narrow(v any) any {
	switch t := v.(type) {
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = narrow(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = narrow(e)
		}
		return t
	}
	return v
}
