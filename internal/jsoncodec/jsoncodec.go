// Package jsoncodec transcodes between JSON values and protobuf dynamic
// messages for a specific pair of input/output message descriptors,
// following the canonical Protobuf-JSON mapping (64-bit integers as
// strings, enums as string names, bytes as base64).
package jsoncodec

import (
	"encoding/json"
	"fmt"

	"github.com/golang/protobuf/jsonpb"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
)

// Codec transcodes JSON to and from dynamic messages shaped by a fixed
// pair of descriptors. It carries no state across calls, so one instance
// serves every message of a streaming call.
type Codec struct {
	input   *desc.MessageDescriptor
	output  *desc.MessageDescriptor
	factory *dynamic.MessageFactory
}

// New builds a codec bound to the given input/output message descriptors.
// extensions may be nil; when present it's consulted so extension fields
// discovered via reflection decode correctly.
func New(input, output *desc.MessageDescriptor, extensions *dynamic.ExtensionRegistry) *Codec {
	var factory *dynamic.MessageFactory
	if extensions != nil {
		factory = dynamic.NewMessageFactoryWithExtensionRegistry(extensions)
	} else {
		factory = dynamic.NewMessageFactoryWithDefaults()
	}
	return &Codec{input: input, output: output, factory: factory}
}

// Encode validates raw against the input descriptor and builds a dynamic
// message from it. Validation runs entirely in-memory; nothing is sent
// over the network regardless of outcome.
func (c *Codec) Encode(raw json.RawMessage) (*dynamic.Message, error) {
	if len(raw) == 0 {
		return nil, &InvalidJsonShapeError{Path: "$", Reason: "empty request body"}
	}

	msg := c.factory.NewDynamicMessage(c.input)
	unmarshaler := &jsonpb.Unmarshaler{AllowUnknownFields: false}
	if err := msg.UnmarshalJSONPB(unmarshaler, raw); err != nil {
		return nil, &InvalidJsonShapeError{Path: "$", Reason: err.Error(), Cause: err}
	}
	return msg, nil
}

// NewOutput allocates an empty dynamic message shaped by the output
// descriptor, ready to be populated by a gRPC response unmarshal.
func (c *Codec) NewOutput() *dynamic.Message {
	return c.factory.NewDynamicMessage(c.output)
}

// Decode projects a dynamic message already populated from the wire (by
// the underlying gRPC stub) into a canonical JSON value.
func (c *Codec) Decode(msg *dynamic.Message) (json.RawMessage, error) {
	marshaler := &jsonpb.Marshaler{}
	out, err := msg.MarshalJSONPB(marshaler)
	if err != nil {
		return nil, &ProtobufDecodeError{Reason: err.Error(), Cause: err}
	}
	return out, nil
}

// InvalidJsonShapeError reports that a request body failed to validate
// against the method's input message descriptor before any network I/O
// was attempted.
type InvalidJsonShapeError struct {
	Path   string
	Reason string
	Cause  error
}

func (e *InvalidJsonShapeError) Error() string {
	return fmt.Sprintf("jsoncodec: invalid request shape at %s: %s", e.Path, e.Reason)
}

func (e *InvalidJsonShapeError) Unwrap() error {
	return e.Cause
}

// ProtobufDecodeError reports that a server response could not be
// projected from a dynamic message into JSON.
type ProtobufDecodeError struct {
	Reason string
	Cause  error
}

func (e *ProtobufDecodeError) Error() string {
	return fmt.Sprintf("jsoncodec: malformed response: %s", e.Reason)
}

func (e *ProtobufDecodeError) Unwrap() error {
	return e.Cause
}

// BodyShapeMismatchError reports that a request body's JSON shape (object
// vs array) doesn't match the streaming arity of the target method.
type BodyShapeMismatchError struct {
	Expected string
	Got      string
}

func (e *BodyShapeMismatchError) Error() string {
	return fmt.Sprintf("jsoncodec: request body shape mismatch: expected %s, got %s", e.Expected, e.Got)
}

// SplitArray parses a JSON array of objects into its individual elements,
// for client-streaming and bidi request bodies. It fails with
// BodyShapeMismatchError if raw is not a JSON array.
func SplitArray(raw json.RawMessage) ([]json.RawMessage, error) {
	var trimmed = trimLeadingSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &BodyShapeMismatchError{Expected: "array", Got: "non-array"}
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, &BodyShapeMismatchError{Expected: "array", Got: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return elems, nil
}

// RequireObject fails with BodyShapeMismatchError unless raw is a JSON
// object, for unary and server-streaming request bodies.
func RequireObject(raw json.RawMessage) error {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return &BodyShapeMismatchError{Expected: "object", Got: "non-object"}
	}
	return nil
}

func trimLeadingSpace(raw json.RawMessage) json.RawMessage {
	i := 0
	for i < len(raw) {
		switch raw[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return raw[i:]
}
