package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

func field(m proto.Message, name string) (protoreflect.Message, protoreflect.FieldDescriptor, bool) {
	if m == nil {
		return nil, nil, false
	}
	rm := m.ProtoReflect()
	fd := rm.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return nil, nil, false
	}
	return rm, fd, true
}

// Int reads an integer field as int64. Missing fields and non-integer kinds
// report false.
func Int(m proto.Message, name string) (int64, bool) {
	rm, fd, ok := field(m, name)
	if !ok || fd.IsList() || fd.IsMap() {
		return 0, false
	}
	v := rm.Get(fd)
	switch fd.Kind() {
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind,
		protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return v.Int(), true
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return int64(v.Uint()), true
	case protoreflect.EnumKind:
		return int64(v.Enum()), true
	default:
		return 0, false
	}
}

// Uint reads an integer field as uint64. Negative signed values report false.
func Uint(m proto.Message, name string) (uint64, bool) {
	rm, fd, ok := field(m, name)
	if !ok || fd.IsList() || fd.IsMap() {
		return 0, false
	}
	switch fd.Kind() {
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind,
		protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return rm.Get(fd).Uint(), true
	}
	v, ok := Int(m, name)
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// Bytes reads a bytes field.
func Bytes(m proto.Message, name string) ([]byte, bool) {
	rm, fd, ok := field(m, name)
	if !ok || fd.Kind() != protoreflect.BytesKind || fd.IsList() {
		return nil, false
	}
	return rm.Get(fd).Bytes(), true
}

// Messages returns the elements of a repeated message field.
func Messages(m proto.Message, name string) []proto.Message {
	rm, fd, ok := field(m, name)
	if !ok || !fd.IsList() || fd.Message() == nil {
		return nil
	}
	list := rm.Get(fd).List()
	out := make([]proto.Message, list.Len())
	for i := range out {
		out[i] = list.Get(i).Message().Interface()
	}
	return out
}
