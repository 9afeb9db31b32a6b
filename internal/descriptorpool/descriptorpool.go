// Package descriptorpool maintains an in-memory index of protobuf
// descriptors assembled from one or more FileDescriptorSets, and resolves
// services, methods, and messages by fully-qualified name.
package descriptorpool

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoprint"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// descriptorPrinter renders a descriptor back to proto source text for
// Describe, matching grpcurl's own presentation (compact, doc comments
// only, fully-qualified names, elements sorted for stable output).
var descriptorPrinter = &protoprint.Printer{
	Compact:                  true,
	OmitComments:             protoprint.CommentsNonDoc,
	SortElements:             true,
	ForceFullyQualifiedNames: true,
}

// Pool is a thread-safe registry of descriptors built from one or more
// FileDescriptorSets. A zero Pool is not usable; construct with New.
type Pool struct {
	mu       sync.RWMutex
	files    map[string]*desc.FileDescriptor
	services map[string]*desc.ServiceDescriptor
	messages map[string]*desc.MessageDescriptor
	exts     *dynamic.ExtensionRegistry
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{
		files:    make(map[string]*desc.FileDescriptor),
		services: make(map[string]*desc.ServiceDescriptor),
		messages: make(map[string]*desc.MessageDescriptor),
		exts:     &dynamic.ExtensionRegistry{},
	}
}

// AddBytes parses data as a wire-encoded FileDescriptorSet and merges it, as
// Add does. It's the entry point for a caller holding an opaque descriptor
// blob (a file read from disk, a response body) rather than an
// already-parsed FileDescriptorSet; data that fails to decode surfaces as
// InvalidDescriptorError rather than a bare proto.Unmarshal error.
func (p *Pool) AddBytes(data []byte) error {
	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(data, fds); err != nil {
		return &InvalidDescriptorError{File: "<descriptor bytes>", Cause: err}
	}
	return p.Add(fds)
}

// Add merges a FileDescriptorSet into the pool. Files already present (by
// name) are left untouched; the set's files are resolved in dependency
// order so that imports already present in the pool, or earlier in the same
// set, are honored.
func (p *Pool) Add(fds *descriptorpb.FileDescriptorSet) error {
	if fds == nil || len(fds.File) == 0 {
		return fmt.Errorf("descriptorpool: empty file descriptor set")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	byName := make(map[string]*descriptorpb.FileDescriptorProto, len(fds.File))
	for _, fdp := range fds.File {
		if fdp.GetName() == "" {
			return fmt.Errorf("descriptorpool: file descriptor with empty name")
		}
		byName[fdp.GetName()] = fdp
	}

	resolved := make(map[string]*desc.FileDescriptor, len(fds.File))
	var resolve func(name string, stack map[string]bool) (*desc.FileDescriptor, error)
	resolve = func(name string, stack map[string]bool) (*desc.FileDescriptor, error) {
		if fd, ok := p.files[name]; ok {
			return fd, nil
		}
		if fd, ok := resolved[name]; ok {
			return fd, nil
		}
		fdp, ok := byName[name]
		if !ok {
			return nil, &MissingDependencyError{File: name}
		}
		if stack[name] {
			return nil, fmt.Errorf("descriptorpool: import cycle involving %s", name)
		}
		stack[name] = true

		deps := make([]*desc.FileDescriptor, 0, len(fdp.GetDependency()))
		for _, dep := range fdp.GetDependency() {
			depFD, err := resolve(dep, stack)
			if err != nil {
				return nil, err
			}
			deps = append(deps, depFD)
		}

		fd, err := desc.CreateFileDescriptor(fdp, deps...)
		if err != nil {
			return nil, &InvalidDescriptorError{File: name, Cause: err}
		}
		resolved[name] = fd
		return fd, nil
	}

	for name := range byName {
		if _, err := resolve(name, make(map[string]bool)); err != nil {
			return err
		}
	}

	for name, fd := range resolved {
		p.files[name] = fd
		for _, svc := range fd.GetServices() {
			p.services[svc.GetFullyQualifiedName()] = svc
		}
		for _, msg := range fd.GetMessageTypes() {
			p.indexMessage(msg)
		}
		for _, ext := range fd.GetExtensions() {
			if err := p.exts.AddExtension(ext); err != nil {
				log.Printf("descriptorpool: skipping extension %s: %v", ext.GetFullyQualifiedName(), err)
			}
		}
	}

	return nil
}

func (p *Pool) indexMessage(msg *desc.MessageDescriptor) {
	p.messages[msg.GetFullyQualifiedName()] = msg
	for _, nested := range msg.GetNestedMessageTypes() {
		p.indexMessage(nested)
	}
	for _, ext := range msg.GetNestedExtensions() {
		if err := p.exts.AddExtension(ext); err != nil {
			log.Printf("descriptorpool: skipping nested extension %s: %v", ext.GetFullyQualifiedName(), err)
		}
	}
}

// ServiceInfo is a read-only summary of a registered service, for
// introspection by callers that don't need the full descriptor.
type ServiceInfo struct {
	Name    string
	Package string
	Methods []MethodInfo
}

// MethodInfo is a read-only summary of a registered method.
type MethodInfo struct {
	Name            string
	InputType       string
	OutputType      string
	ClientStreaming bool
	ServerStreaming bool
}

// ListServices returns a summary of every service currently in the pool.
func (p *Pool) ListServices() []ServiceInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]ServiceInfo, 0, len(p.services))
	for _, svc := range p.services {
		out = append(out, serviceInfo(svc))
	}
	return out
}

func serviceInfo(svc *desc.ServiceDescriptor) ServiceInfo {
	info := ServiceInfo{
		Name:    svc.GetFullyQualifiedName(),
		Package: svc.GetFile().GetPackage(),
		Methods: make([]MethodInfo, 0, len(svc.GetMethods())),
	}
	for _, m := range svc.GetMethods() {
		info.Methods = append(info.Methods, MethodInfo{
			Name:            m.GetName(),
			InputType:       m.GetInputType().GetFullyQualifiedName(),
			OutputType:      m.GetOutputType().GetFullyQualifiedName(),
			ClientStreaming: m.IsClientStreaming(),
			ServerStreaming: m.IsServerStreaming(),
		})
	}
	return info
}

// ServiceNotFoundError reports that no service by that name is registered.
type ServiceNotFoundError struct {
	Name string
}

func (e *ServiceNotFoundError) Error() string {
	return fmt.Sprintf("descriptorpool: service not found: %s", e.Name)
}

// MethodNotFoundError reports that a service exists but not the method.
type MethodNotFoundError struct {
	Service string
	Method  string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("descriptorpool: method not found: %s.%s", e.Service, e.Method)
}

// SymbolNotFoundError reports that no file, service, or message by that
// fully-qualified name is registered.
type SymbolNotFoundError struct {
	Symbol string
}

func (e *SymbolNotFoundError) Error() string {
	return fmt.Sprintf("descriptorpool: symbol not found: %s", e.Symbol)
}

// MissingDependencyError reports that a FileDescriptorProto imports a file
// not present in the set being added and not already in the pool.
type MissingDependencyError struct {
	File string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("descriptorpool: missing dependency: %s", e.File)
}

// InvalidDescriptorError reports that a FileDescriptorProto failed to
// build into a usable descriptor.
type InvalidDescriptorError struct {
	File  string
	Cause error
}

func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("descriptorpool: invalid descriptor %s: %v", e.File, e.Cause)
}

func (e *InvalidDescriptorError) Unwrap() error {
	return e.Cause
}

// GetService retrieves a service descriptor by fully-qualified name.
func (p *Pool) GetService(name string) (*desc.ServiceDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	svc, ok := p.services[name]
	if !ok {
		return nil, &ServiceNotFoundError{Name: name}
	}
	return svc, nil
}

// GetMethod retrieves a method descriptor by service and method name.
func (p *Pool) GetMethod(serviceName, methodName string) (*desc.MethodDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	svc, ok := p.services[serviceName]
	if !ok {
		return nil, &ServiceNotFoundError{Name: serviceName}
	}

	method := svc.FindMethodByName(methodName)
	if method == nil {
		return nil, &MethodNotFoundError{Service: serviceName, Method: methodName}
	}
	return method, nil
}

// ListMethods returns the sorted method names of a registered service.
func (p *Pool) ListMethods(serviceName string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	svc, ok := p.services[serviceName]
	if !ok {
		return nil, &ServiceNotFoundError{Name: serviceName}
	}

	methods := make([]string, 0, len(svc.GetMethods()))
	for _, m := range svc.GetMethods() {
		methods = append(methods, m.GetName())
	}
	sort.Strings(methods)
	return methods, nil
}

// Describe renders the proto source text for a registered service or
// message, for callers that want a human-readable schema snippet rather
// than a descriptor object.
func (p *Pool) Describe(symbol string) (string, error) {
	p.mu.RLock()
	var d desc.Descriptor
	if svc, ok := p.services[symbol]; ok {
		d = svc
	} else if msg, ok := p.messages[symbol]; ok {
		d = msg
	}
	p.mu.RUnlock()

	if d == nil {
		return "", &SymbolNotFoundError{Symbol: symbol}
	}

	txt, err := descriptorPrinter.PrintProtoToString(d)
	if err != nil {
		return "", fmt.Errorf("descriptorpool: describe %s: %w", symbol, err)
	}
	return strings.TrimSuffix(txt, "\n"), nil
}

// GetMessage retrieves a message descriptor by fully-qualified name.
func (p *Pool) GetMessage(name string) (*desc.MessageDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	msg, ok := p.messages[name]
	if !ok {
		return nil, &SymbolNotFoundError{Symbol: name}
	}
	return msg, nil
}

// HasSymbol reports whether a service, message, or file with the given
// fully-qualified name is already present, so the reflection client can
// decide whether a fetch is needed before asking the server for one.
func (p *Pool) HasSymbol(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.services[name]; ok {
		return true
	}
	if _, ok := p.messages[name]; ok {
		return true
	}
	_, ok := p.files[name]
	return ok
}

// ExtensionRegistry returns the pool's accumulated proto2 extension
// registry, for wiring into a dynamic.MessageFactory so extension fields
// discovered via reflection decode correctly.
func (p *Pool) ExtensionRegistry() *dynamic.ExtensionRegistry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exts
}

// Stats summarizes the current contents of the pool.
type Stats struct {
	FileCount    int
	ServiceCount int
	MessageCount int
}

// GetStats returns the current pool statistics.
func (p *Pool) GetStats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Stats{
		FileCount:    len(p.files),
		ServiceCount: len(p.services),
		MessageCount: len(p.messages),
	}
}
