// Package reflection resolves protobuf schema from a gRPC server's
// reflection service, following transitive file dependencies until a
// requested symbol's full schema closure has been retrieved.
package reflection

import (
	"context"
	"fmt"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/protobuf/types/descriptorpb"
)

// reservedServiceNames are the reflection service's own names; they are
// never resolved as application symbols.
var reservedServiceNames = map[string]bool{
	"grpc.reflection.v1alpha.ServerReflection": true,
	"grpc.reflection.v1.ServerReflection":      true,
}

// Client queries a gRPC server's reflection endpoint for service and
// message schema, converting the jhump/protoreflect descriptors it gets
// back into FileDescriptorSets the descriptor pool can merge.
type Client struct {
	ref *grpcreflect.Client
}

// New wraps an established connection for reflection queries. The caller
// owns conn's lifecycle; Close only tears down reflection-side state.
func New(ctx context.Context, conn *grpc.ClientConn) *Client {
	return &Client{ref: grpcreflect.NewClientAuto(ctx, conn)}
}

// Close releases the reflection stream.
func (c *Client) Close() {
	c.ref.Reset()
}

// ListServices returns the fully-qualified name of every service the
// server exposes, excluding the reflection service itself.
func (c *Client) ListServices() ([]string, error) {
	names, err := c.ref.ListServices()
	if err != nil {
		return nil, fmt.Errorf("reflection: list services: %w", err)
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if reservedServiceNames[n] {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// ResolveSymbol fetches the file containing the given fully-qualified
// symbol (a service or message name) along with every file it transitively
// imports, and returns them as a single FileDescriptorSet ready to be
// merged into a descriptor pool.
func (c *Client) ResolveSymbol(symbol string) (*descriptorpb.FileDescriptorSet, error) {
	fd, err := c.ref.FileContainingSymbol(symbol)
	if err != nil {
		return nil, &SymbolNotFoundError{Symbol: symbol, Cause: err}
	}

	collected := make(map[string]*desc.FileDescriptor)
	collectFileDescriptors(fd, collected)

	fds := &descriptorpb.FileDescriptorSet{
		File: make([]*descriptorpb.FileDescriptorProto, 0, len(collected)),
	}
	for _, f := range collected {
		fds.File = append(fds.File, f.AsFileDescriptorProto())
	}
	return fds, nil
}

// collectFileDescriptors walks fd and its transitive dependencies,
// de-duplicating by file name.
func collectFileDescriptors(fd *desc.FileDescriptor, collected map[string]*desc.FileDescriptor) {
	name := fd.GetName()
	if _, ok := collected[name]; ok {
		return
	}
	collected[name] = fd

	for _, dep := range fd.GetDependencies() {
		collectFileDescriptors(dep, collected)
	}
}

// SymbolNotFoundError reports that the server's reflection service has no
// file containing the requested symbol.
type SymbolNotFoundError struct {
	Symbol string
	Cause  error
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("reflection: symbol not found: %s: %v", e.Symbol, e.Cause)
}

func (e *SymbolNotFoundError) Unwrap() error {
	return e.Cause
}

// CheckSupport reports whether conn's server answers reflection queries
// at all, without resolving any particular symbol.
func CheckSupport(ctx context.Context, conn *grpc.ClientConn) (bool, error) {
	ref := grpcreflect.NewClientV1Alpha(ctx, grpc_reflection_v1alpha.NewServerReflectionClient(conn))
	defer ref.Reset()

	_, err := ref.ListServices()
	return err == nil, err
}
