// Package codec decodes protocol messages against a protobuf schema that is
// loaded at runtime, so the schema can follow format drift without a rebuild.
package codec

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Top-level message type names.
const (
	TypeIncomingPacket = "IncomingPacket"
	TypeOutgoingPacket = "OutgoingPacket"
	TypePlayerUpdate   = "PlayerUpdate"
	TypePlayerState    = "PlayerState"
)

//go:embed schema.txtpb
var embeddedSchema []byte

// ErrUnknownType is returned for a type name the schema does not define.
var ErrUnknownType = errors.New("codec: unknown message type")

// DecodeError reports bytes that do not match the schema of a type.
type DecodeError struct {
	Type string
	Len  int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: decode %s (%d bytes): %v", e.Type, e.Len, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Codec resolves short type names within one schema file.
// Safe for concurrent use once built.
type Codec struct {
	pkg   protoreflect.FullName
	types map[string]protoreflect.MessageDescriptor
}

// New builds a codec from the embedded schema.
func New() (*Codec, error) {
	return Parse(embeddedSchema)
}

// Load builds a codec from a text-format FileDescriptorProto on disk.
// An empty path selects the embedded schema.
func Load(path string) (*Codec, error) {
	if path == "" {
		return New()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	return Parse(b)
}

// Parse builds a codec from a text-format FileDescriptorProto.
func Parse(textpb []byte) (*Codec, error) {
	fdp := &descriptorpb.FileDescriptorProto{}
	if err := prototext.Unmarshal(textpb, fdp); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return FromDescriptor(fdp)
}

// FromDescriptor builds a codec from a file descriptor with no imports.
func FromDescriptor(fdp *descriptorpb.FileDescriptorProto) (*Codec, error) {
	fd, err := protodesc.NewFile(fdp, new(protoregistry.Files))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}

	c := &Codec{
		pkg:   fd.Package(),
		types: make(map[string]protoreflect.MessageDescriptor),
	}
	c.register(fd.Messages())

	for _, name := range []string{TypeIncomingPacket, TypeOutgoingPacket, TypePlayerUpdate} {
		if _, ok := c.types[name]; !ok {
			return nil, fmt.Errorf("schema %s: missing message %s", fd.Path(), name)
		}
	}
	return c, nil
}

func (c *Codec) register(mds protoreflect.MessageDescriptors) {
	for i := 0; i < mds.Len(); i++ {
		md := mds.Get(i)
		// Nested types are addressable by their dotted name below the package.
		name := string(md.FullName())
		if c.pkg != "" {
			name = name[len(c.pkg)+1:]
		}
		c.types[name] = md
		c.register(md.Messages())
	}
}

// Has reports whether typeName is defined.
func (c *Codec) Has(typeName string) bool {
	_, ok := c.types[typeName]
	return ok
}

// Descriptor returns the descriptor of typeName.
func (c *Codec) Descriptor(typeName string) (protoreflect.MessageDescriptor, bool) {
	md, ok := c.types[typeName]
	return md, ok
}

// NewMessage returns an empty message of typeName.
func (c *Codec) NewMessage(typeName string) (*dynamicpb.Message, error) {
	md, ok := c.types[typeName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return dynamicpb.NewMessage(md), nil
}

// Decode parses b as typeName. Failures are returned as *DecodeError.
func (c *Codec) Decode(typeName string, b []byte) (proto.Message, error) {
	md, ok := c.types[typeName]
	if !ok {
		return nil, &DecodeError{Type: typeName, Len: len(b), Err: ErrUnknownType}
	}
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, &DecodeError{Type: typeName, Len: len(b), Err: err}
	}
	return msg, nil
}
