// Package granc is a dynamic gRPC client: it invokes arbitrary gRPC methods
// on arbitrary servers using JSON payloads, resolving schema from a local
// FileDescriptorSet or from the server's reflection endpoint, without any
// compile-time .proto code generation.
//
// The client is modeled as three types rather than one type with runtime
// mode checks: Online, OnlineWithoutReflection, and Offline. Each exposes
// only the operations legal in that mode — in particular, Offline has no
// Dynamic method at all, so an attempt to issue a dynamic call against an
// offline client is a compile error, not a runtime one.
package granc

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/jasterv/granc/internal/descriptorpool"
	"github.com/jasterv/granc/internal/jsoncodec"
	"github.com/jasterv/granc/internal/reflection"
	"github.com/jasterv/granc/internal/transport"
)

// Introspectable is the minimal surface common to all three client states:
// listing known services and resolving a symbol to its message descriptor.
// Online resolves both against the live server; OnlineWithoutReflection and
// Offline resolve both against their fixed local pool.
type Introspectable interface {
	ListServices(ctx context.Context) ([]string, error)
	GetDescriptorBySymbol(ctx context.Context, symbol string) (*desc.MessageDescriptor, error)
}

// DynamicRequest names a method by service and simple method name, carries
// a JSON request body, and an ordered list of request metadata pairs.
type DynamicRequest struct {
	Service string
	Method  string
	Body    []byte
	Headers []transport.Header
}

// DynamicResponse is the outcome of a dynamic call. Exactly one of Unary or
// Stream is set, matching the method's streaming arity.
type DynamicResponse = transport.Response

// Online is a client backed by a live connection whose schema is resolved
// lazily from the server's reflection service. The pool starts empty and
// grows as dynamic calls reference services not yet known; a reflection
// fetch for a given service runs at most once concurrently, so two callers
// racing on the same unknown service share one fetch.
type Online struct {
	conn      *grpc.ClientConn
	pool      *descriptorpool.Pool
	refClient *reflection.Client
	resolver  *reflection.InFlightResolver
}

// Connect dials target and returns an Online client whose schema will be
// resolved via the server's reflection endpoint on first use. opts are
// appended after a default insecure transport credential, so callers that
// need TLS should pass grpc.WithTransportCredentials to override it.
func Connect(ctx context.Context, target string, opts ...grpc.DialOption) (*Online, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("granc: connect to %s: %w", target, err)
	}

	refClient := reflection.New(ctx, conn)
	return &Online{
		conn:      conn,
		pool:      descriptorpool.New(),
		refClient: refClient,
		resolver:  reflection.NewInFlightResolver(refClient),
	}, nil
}

// ListServices returns every service name the server's reflection endpoint
// reports, excluding the reflection service itself.
func (o *Online) ListServices(ctx context.Context) ([]string, error) {
	return o.refClient.ListServices()
}

// GetDescriptorBySymbol returns the message descriptor for symbol, fetching
// and merging it via reflection if the pool doesn't already have it.
func (o *Online) GetDescriptorBySymbol(ctx context.Context, symbol string) (*desc.MessageDescriptor, error) {
	if msg, err := o.pool.GetMessage(symbol); err == nil {
		return msg, nil
	}
	if err := o.expand(symbol); err != nil {
		return nil, err
	}
	return o.pool.GetMessage(symbol)
}

// Dynamic resolves req's service and method against the pool — triggering a
// reflection fetch on a pool miss — then dispatches the call through the
// transport.
func (o *Online) Dynamic(ctx context.Context, req DynamicRequest) (*DynamicResponse, error) {
	md, err := o.resolveMethod(req.Service, req.Method)
	if err != nil {
		return nil, err
	}
	codec := jsoncodec.New(md.GetInputType(), md.GetOutputType(), o.pool.ExtensionRegistry())
	return transport.Invoke(ctx, o.conn, md, codec, req.Body, req.Headers)
}

func (o *Online) resolveMethod(service, method string) (*desc.MethodDescriptor, error) {
	md, err := o.pool.GetMethod(service, method)
	if err == nil {
		return md, nil
	}
	if err := o.expand(service); err != nil {
		return nil, err
	}
	return o.pool.GetMethod(service, method)
}

func (o *Online) expand(symbol string) error {
	fds, err := o.resolver.ResolveSymbol(symbol)
	if err != nil {
		return err
	}
	return o.pool.Add(fds)
}

// WithFileDescriptor consumes o and returns an OnlineWithoutReflection
// client seeded with fds instead of the server's reflection endpoint. The
// transition is one-way: o must not be used after this call returns
// successfully.
func (o *Online) WithFileDescriptor(fds *descriptorpb.FileDescriptorSet) (*OnlineWithoutReflection, error) {
	if err := o.pool.Add(fds); err != nil {
		return nil, err
	}
	o.refClient.Close()
	return &OnlineWithoutReflection{conn: o.conn, pool: o.pool}, nil
}

// WithFileDescriptorBytes is WithFileDescriptor for a caller holding an
// opaque, wire-encoded FileDescriptorSet (descriptor binary file bytes)
// rather than an already-parsed one.
func (o *Online) WithFileDescriptorBytes(data []byte) (*OnlineWithoutReflection, error) {
	if err := o.pool.AddBytes(data); err != nil {
		return nil, err
	}
	o.refClient.Close()
	return &OnlineWithoutReflection{conn: o.conn, pool: o.pool}, nil
}

// Close tears down the reflection stream and the underlying connection.
func (o *Online) Close() error {
	o.refClient.Close()
	return o.conn.Close()
}

// OnlineWithoutReflection is a client backed by a live connection whose
// schema comes entirely from a local FileDescriptorSet; it never calls the
// server's reflection endpoint, so every lookup is synchronous.
type OnlineWithoutReflection struct {
	conn *grpc.ClientConn
	pool *descriptorpool.Pool
}

// ListServices returns every service name present in the local pool.
func (o *OnlineWithoutReflection) ListServices(ctx context.Context) ([]string, error) {
	infos := o.pool.ListServices()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

// GetDescriptorBySymbol returns the message descriptor for symbol from the
// local pool.
func (o *OnlineWithoutReflection) GetDescriptorBySymbol(ctx context.Context, symbol string) (*desc.MessageDescriptor, error) {
	return o.pool.GetMessage(symbol)
}

// Dynamic resolves req's service and method against the fixed local pool
// and dispatches the call through the transport. Unlike Online, a pool miss
// here is terminal: there is no reflection fallback.
func (o *OnlineWithoutReflection) Dynamic(ctx context.Context, req DynamicRequest) (*DynamicResponse, error) {
	md, err := o.pool.GetMethod(req.Service, req.Method)
	if err != nil {
		return nil, err
	}
	codec := jsoncodec.New(md.GetInputType(), md.GetOutputType(), o.pool.ExtensionRegistry())
	return transport.Invoke(ctx, o.conn, md, codec, req.Body, req.Headers)
}

// Close tears down the underlying connection.
func (o *OnlineWithoutReflection) Close() error {
	return o.conn.Close()
}

// Offline is a client with no transport at all: it can only introspect a
// local FileDescriptorSet. It has no Dynamic method, so dynamic calls
// against an offline client are a compile-time impossibility rather than a
// runtime error.
type Offline struct {
	pool *descriptorpool.Pool
}

// FromDescriptor builds an Offline client whose pool is seeded entirely
// from fds; it opens no connection.
func FromDescriptor(fds *descriptorpb.FileDescriptorSet) (*Offline, error) {
	pool := descriptorpool.New()
	if err := pool.Add(fds); err != nil {
		return nil, err
	}
	return &Offline{pool: pool}, nil
}

// FromDescriptorBytes is FromDescriptor for a caller holding an opaque,
// wire-encoded FileDescriptorSet (descriptor binary file bytes) rather than
// an already-parsed one; bytes that fail to decode surface as
// descriptorpool.InvalidDescriptorError.
func FromDescriptorBytes(data []byte) (*Offline, error) {
	pool := descriptorpool.New()
	if err := pool.AddBytes(data); err != nil {
		return nil, err
	}
	return &Offline{pool: pool}, nil
}

// ListServices returns every service name present in the local pool.
func (o *Offline) ListServices(ctx context.Context) ([]string, error) {
	infos := o.pool.ListServices()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

// GetDescriptorBySymbol returns the message descriptor for symbol from the
// local pool.
func (o *Offline) GetDescriptorBySymbol(ctx context.Context, symbol string) (*desc.MessageDescriptor, error) {
	return o.pool.GetMessage(symbol)
}

var (
	_ Introspectable = (*Online)(nil)
	_ Introspectable = (*OnlineWithoutReflection)(nil)
	_ Introspectable = (*Offline)(nil)
)
