// Package transport drives the four gRPC streaming shapes (unary,
// server-streaming, client-streaming, bidirectional) over a dynamic
// method descriptor, translating between JSON values on the caller side
// and dynamic protobuf messages on the wire side.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/jasterv/granc/internal/jsoncodec"
)

func decodeDynamic(codec *jsoncodec.Codec, msg any) (json.RawMessage, error) {
	dynMsg, ok := msg.(*dynamic.Message)
	if !ok {
		return nil, &jsoncodec.ProtobufDecodeError{Reason: "response is not a dynamic message"}
	}
	return codec.Decode(dynMsg)
}

// Result is one message produced by a call: either a decoded JSON value
// or a terminal gRPC status.
type Result struct {
	Value json.RawMessage
	Err   error
}

// GRPCStatusError wraps a non-OK gRPC status, carrying the trailing
// metadata the server returned alongside it.
type GRPCStatusError struct {
	Code    codes.Code
	Message string
	Trailer metadata.MD
}

func (e *GRPCStatusError) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", e.Code, e.Message)
}

// ResultStream is a finite, non-restartable, pull-based sequence of
// Results. Recv returns io.EOF once the stream has terminated normally;
// it may instead return a final Result carrying a non-nil Err, per the
// server's trailing status.
type ResultStream struct {
	results chan Result
	cancel  context.CancelFunc
}

// Recv blocks for the next result. It returns io.EOF, nil after the
// stream has been fully drained.
func (s *ResultStream) Recv() (Result, error) {
	r, ok := <-s.results
	if !ok {
		return Result{}, io.EOF
	}
	return r, nil
}

// Close cancels the underlying call if the stream is abandoned before
// exhaustion; draining to io.EOF makes Close a no-op.
func (s *ResultStream) Close() {
	s.cancel()
}

// Response is the outcome of a dynamic call: exactly one of Unary or
// Stream is set, matching the method's streaming arity.
type Response struct {
	Unary  *Result
	Stream *ResultStream
}

// Invoke dispatches a call on conn using the four-way shape selected by
// md's streaming flags. body is a single JSON object for unary/server-
// streaming methods or a JSON array for client/bidi methods; codec must
// be bound to md's input/output message descriptors.
func Invoke(ctx context.Context, conn *grpc.ClientConn, md *desc.MethodDescriptor, codec *jsoncodec.Codec, body json.RawMessage, headers []Header) (*Response, error) {
	requestMD, err := BuildMetadata(headers)
	if err != nil {
		return nil, err
	}

	clientStreaming := md.IsClientStreaming()
	serverStreaming := md.IsServerStreaming()

	if clientStreaming {
		if err := requireArrayBody(body); err != nil {
			return nil, err
		}
	} else {
		if err := jsoncodec.RequireObject(body); err != nil {
			return nil, err
		}
	}

	ctx = metadata.NewOutgoingContext(ctx, requestMD)
	stub := grpcdynamic.NewStub(conn)

	switch {
	case clientStreaming && serverStreaming:
		return invokeBidi(ctx, stub, md, codec, body)
	case clientStreaming:
		return invokeClientStream(ctx, stub, md, codec, body)
	case serverStreaming:
		return invokeServerStream(ctx, stub, md, codec, body)
	default:
		return invokeUnary(ctx, stub, md, codec, body)
	}
}

func requireArrayBody(body json.RawMessage) error {
	_, err := jsoncodec.SplitArray(body)
	return err
}

// encodeAll validates and encodes every element of a client/bidi streaming
// request body before any stream is opened, so a malformed element fails
// the call outright instead of surfacing as a truncated stream.
func encodeAll(codec *jsoncodec.Codec, elems []json.RawMessage) ([]*dynamic.Message, error) {
	msgs := make([]*dynamic.Message, len(elems))
	for i, elem := range elems {
		msg, err := codec.Encode(elem)
		if err != nil {
			return nil, err
		}
		msgs[i] = msg
	}
	return msgs, nil
}

func invokeUnary(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, codec *jsoncodec.Codec, body json.RawMessage) (*Response, error) {
	reqMsg, err := codec.Encode(body)
	if err != nil {
		return nil, err
	}

	var trailer metadata.MD
	resp, err := stub.InvokeRpc(ctx, md, reqMsg, grpc.Trailer(&trailer))
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return &Response{Unary: &Result{Err: &GRPCStatusError{Code: st.Code(), Message: st.Message(), Trailer: trailer}}}, nil
	} else if err != nil {
		return nil, fmt.Errorf("transport: unary call to %s failed: %w", md.GetFullyQualifiedName(), err)
	}

	out, err := decodeDynamic(codec, resp)
	if err != nil {
		return nil, err
	}
	return &Response{Unary: &Result{Value: out}}, nil
}

func invokeClientStream(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, codec *jsoncodec.Codec, body json.RawMessage) (*Response, error) {
	elems, err := jsoncodec.SplitArray(body)
	if err != nil {
		return nil, err
	}
	reqMsgs, err := encodeAll(codec, elems)
	if err != nil {
		return nil, err
	}

	str, err := stub.InvokeRpcClientStream(ctx, md)
	if err != nil {
		return nil, fmt.Errorf("transport: client-stream call to %s failed to start: %w", md.GetFullyQualifiedName(), err)
	}

	for _, reqMsg := range reqMsgs {
		if err := str.SendMsg(reqMsg); err != nil && err != io.EOF {
			return nil, fmt.Errorf("transport: client-stream send to %s failed: %w", md.GetFullyQualifiedName(), err)
		}
	}

	resp, err := str.CloseAndReceive()
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		trailer := str.Trailer()
		return &Response{Unary: &Result{Err: &GRPCStatusError{Code: st.Code(), Message: st.Message(), Trailer: trailer}}}, nil
	} else if err != nil {
		return nil, fmt.Errorf("transport: client-stream call to %s failed: %w", md.GetFullyQualifiedName(), err)
	}

	out, err := decodeDynamic(codec, resp)
	if err != nil {
		return nil, err
	}
	return &Response{Unary: &Result{Value: out}}, nil
}

func invokeServerStream(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, codec *jsoncodec.Codec, body json.RawMessage) (*Response, error) {
	reqMsg, err := codec.Encode(body)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	str, err := stub.InvokeRpcServerStream(ctx, md, reqMsg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: server-stream call to %s failed to start: %w", md.GetFullyQualifiedName(), err)
	}

	results := make(chan Result)

	go func() {
		defer close(results)
		for {
			resp, err := str.RecvMsg()
			if err == io.EOF {
				return
			}
			if st, ok := status.FromError(err); ok && err != nil && st.Code() != codes.OK {
				select {
				case results <- Result{Err: &GRPCStatusError{Code: st.Code(), Message: st.Message(), Trailer: str.Trailer()}}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case results <- Result{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			out, decErr := decodeDynamic(codec, resp)
			if decErr != nil {
				select {
				case results <- Result{Err: decErr}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case results <- Result{Value: out}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Response{Stream: &ResultStream{results: results, cancel: cancel}}, nil
}

func invokeBidi(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, codec *jsoncodec.Codec, body json.RawMessage) (*Response, error) {
	elems, err := jsoncodec.SplitArray(body)
	if err != nil {
		return nil, err
	}
	reqMsgs, err := encodeAll(codec, elems)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	str, err := stub.InvokeRpcBidiStream(ctx, md)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: bidi call to %s failed to start: %w", md.GetFullyQualifiedName(), err)
	}

	go func() {
		for _, reqMsg := range reqMsgs {
			if err := str.SendMsg(reqMsg); err != nil {
				break
			}
		}
		str.CloseSend()
	}()

	results := make(chan Result)
	go func() {
		defer close(results)
		for {
			resp, err := str.RecvMsg()
			if err == io.EOF {
				return
			}
			if st, ok := status.FromError(err); ok && err != nil && st.Code() != codes.OK {
				select {
				case results <- Result{Err: &GRPCStatusError{Code: st.Code(), Message: st.Message(), Trailer: str.Trailer()}}:
				case <-ctx.Done():
				}
				return
			}
			if err != nil {
				select {
				case results <- Result{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			out, decErr := decodeDynamic(codec, resp)
			if decErr != nil {
				select {
				case results <- Result{Err: decErr}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case results <- Result{Value: out}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Response{Stream: &ResultStream{results: results, cancel: cancel}}, nil
}
