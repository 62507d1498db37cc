package codec

import (
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"
)

var protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

// Protobuf stores proto.Message results. Functions memoized through a
// Protobuf backend must return a message pointer (e.g. *pb.User).
type Protobuf struct{}

var _ Codec = Protobuf{}

func (Protobuf) ID() byte     { return idProtobuf }
func (Protobuf) Name() string { return "protobuf" }

func (Protobuf) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("codec: protobuf cannot marshal %T", v)
	}
	return proto.Marshal(m)
}

// Unmarshal accepts either a message (dst *pb.User) or a pointer to a
// message pointer (dst **pb.User); the latter is allocated on demand.
func (Protobuf) Unmarshal(b []byte, dst any) error {
	if m, ok := dst.(proto.Message); ok {
		return proto.Unmarshal(b, m)
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("codec: protobuf cannot unmarshal into %T", dst)
	}
	elem := rv.Elem()
	if elem.Kind() != reflect.Pointer || !elem.Type().Implements(protoMessageType) {
		return fmt.Errorf("codec: protobuf cannot unmarshal into %T", dst)
	}
	m := reflect.New(elem.Type().Elem())
	if err := proto.Unmarshal(b, m.Interface().(proto.Message)); err != nil {
		return err
	}
	elem.Set(m)
	return nil
}
