package descriptorpool

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func strp(s string) *string { return &s }
func i32p(i int32) *int32   { return &i }
func boolp(b bool) *bool    { return &b }

func fieldType(t descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto_Type {
	return &t
}

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   strp(name),
		Number: i32p(number),
		Type:   fieldType(descriptorpb.FieldDescriptorProto_TYPE_STRING),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
}

func testFileDescriptorSet() *descriptorpb.FileDescriptorSet {
	fileDesc := &descriptorpb.FileDescriptorProto{
		Name:    strp("test.proto"),
		Package: strp("test.v1"),
		Syntax:  strp("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: strp("TestService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       strp("TestMethod"),
						InputType:  strp(".test.v1.TestRequest"),
						OutputType: strp(".test.v1.TestResponse"),
					},
				},
			},
		},
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: strp("TestRequest"), Field: []*descriptorpb.FieldDescriptorProto{stringField("name", 1)}},
			{Name: strp("TestResponse"), Field: []*descriptorpb.FieldDescriptorProto{stringField("message", 1)}},
		},
	}

	return &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fileDesc}}
}

func TestNew(t *testing.T) {
	p := New()
	stats := p.GetStats()
	if stats.FileCount != 0 || stats.ServiceCount != 0 || stats.MessageCount != 0 {
		t.Fatalf("expected empty pool, got %+v", stats)
	}
}

func TestAdd(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	stats := p.GetStats()
	if stats.FileCount != 1 {
		t.Errorf("expected 1 file, got %d", stats.FileCount)
	}
	if stats.ServiceCount != 1 {
		t.Errorf("expected 1 service, got %d", stats.ServiceCount)
	}
	if stats.MessageCount != 2 {
		t.Errorf("expected 2 messages, got %d", stats.MessageCount)
	}
}

func TestAdd_Empty(t *testing.T) {
	p := New()
	err := p.Add(&descriptorpb.FileDescriptorSet{})
	if err == nil {
		t.Error("expected error adding empty descriptor set")
	}
}

func TestAdd_MissingDependency(t *testing.T) {
	p := New()
	fds := &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:       strp("dependent.proto"),
				Package:    strp("dep.v1"),
				Syntax:     strp("proto3"),
				Dependency: []string{"missing.proto"},
			},
		},
	}

	err := p.Add(fds)
	if err == nil {
		t.Fatal("expected error for missing dependency")
	}
	if _, ok := err.(*MissingDependencyError); !ok {
		t.Errorf("expected *MissingDependencyError, got %T: %v", err, err)
	}
}

func TestAddBytes(t *testing.T) {
	data, err := proto.Marshal(testFileDescriptorSet())
	if err != nil {
		t.Fatalf("failed to marshal test descriptor set: %v", err)
	}

	p := New()
	if err := p.AddBytes(data); err != nil {
		t.Fatalf("AddBytes failed: %v", err)
	}

	stats := p.GetStats()
	if stats.ServiceCount != 1 {
		t.Errorf("expected 1 service, got %d", stats.ServiceCount)
	}
}

func TestAddBytes_Malformed(t *testing.T) {
	p := New()
	err := p.AddBytes([]byte{0xff, 0xff, 0xff})
	if err == nil {
		t.Fatal("expected error for malformed descriptor bytes")
	}
	if _, ok := err.(*InvalidDescriptorError); !ok {
		t.Errorf("expected *InvalidDescriptorError, got %T: %v", err, err)
	}
}

func TestListServices(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	services := p.ListServices()
	if len(services) != 1 {
		t.Fatalf("expected 1 service, got %d", len(services))
	}

	svc := services[0]
	if svc.Name != "test.v1.TestService" {
		t.Errorf("expected service name test.v1.TestService, got %s", svc.Name)
	}
	if len(svc.Methods) != 1 || svc.Methods[0].Name != "TestMethod" {
		t.Errorf("unexpected methods: %+v", svc.Methods)
	}
}

func TestGetService_NotFound(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	_, err := p.GetService("nonexistent.Service")
	if _, ok := err.(*ServiceNotFoundError); !ok {
		t.Errorf("expected *ServiceNotFoundError, got %T: %v", err, err)
	}
}

func TestGetMethod(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	method, err := p.GetMethod("test.v1.TestService", "TestMethod")
	if err != nil {
		t.Fatalf("GetMethod failed: %v", err)
	}
	if method.GetName() != "TestMethod" {
		t.Errorf("expected TestMethod, got %s", method.GetName())
	}

	if _, err := p.GetMethod("test.v1.TestService", "Missing"); err == nil {
		t.Error("expected error for missing method")
	} else if _, ok := err.(*MethodNotFoundError); !ok {
		t.Errorf("expected *MethodNotFoundError, got %T", err)
	}
}

func TestGetMessage(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	msg, err := p.GetMessage("test.v1.TestRequest")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if msg.GetName() != "TestRequest" {
		t.Errorf("expected TestRequest, got %s", msg.GetName())
	}
}

func TestListMethods(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	methods, err := p.ListMethods("test.v1.TestService")
	if err != nil {
		t.Fatalf("ListMethods failed: %v", err)
	}
	if len(methods) != 1 || methods[0] != "TestMethod" {
		t.Errorf("expected [TestMethod], got %v", methods)
	}

	if _, err := p.ListMethods("nonexistent.Service"); err == nil {
		t.Error("expected error for unregistered service")
	} else if _, ok := err.(*ServiceNotFoundError); !ok {
		t.Errorf("expected *ServiceNotFoundError, got %T", err)
	}
}

func TestDescribe(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	txt, err := p.Describe("test.v1.TestRequest")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if !strings.Contains(txt, "TestRequest") {
		t.Errorf("expected descriptor text to mention TestRequest, got %q", txt)
	}

	if _, err := p.Describe("nonexistent.Symbol"); err == nil {
		t.Error("expected error for unregistered symbol")
	} else if _, ok := err.(*SymbolNotFoundError); !ok {
		t.Errorf("expected *SymbolNotFoundError, got %T", err)
	}
}

func TestHasSymbol(t *testing.T) {
	p := New()
	if p.HasSymbol("test.v1.TestService") {
		t.Error("expected HasSymbol to be false before Add")
	}

	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if !p.HasSymbol("test.v1.TestService") {
		t.Error("expected HasSymbol to be true after Add")
	}
	if p.HasSymbol("nonexistent.Symbol") {
		t.Error("expected HasSymbol to be false for unregistered symbol")
	}
}

func TestMethodStreamingFlags(t *testing.T) {
	fileDesc := &descriptorpb.FileDescriptorProto{
		Name:    strp("stream.proto"),
		Package: strp("stream.v1"),
		Syntax:  strp("proto3"),
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: strp("StreamService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{Name: strp("Unary"), InputType: strp(".stream.v1.Req"), OutputType: strp(".stream.v1.Resp"), ClientStreaming: boolp(false), ServerStreaming: boolp(false)},
					{Name: strp("ClientStream"), InputType: strp(".stream.v1.Req"), OutputType: strp(".stream.v1.Resp"), ClientStreaming: boolp(true), ServerStreaming: boolp(false)},
					{Name: strp("ServerStream"), InputType: strp(".stream.v1.Req"), OutputType: strp(".stream.v1.Resp"), ClientStreaming: boolp(false), ServerStreaming: boolp(true)},
					{Name: strp("Bidi"), InputType: strp(".stream.v1.Req"), OutputType: strp(".stream.v1.Resp"), ClientStreaming: boolp(true), ServerStreaming: boolp(true)},
				},
			},
		},
		MessageType: []*descriptorpb.DescriptorProto{
			{Name: strp("Req"), Field: []*descriptorpb.FieldDescriptorProto{stringField("data", 1)}},
			{Name: strp("Resp"), Field: []*descriptorpb.FieldDescriptorProto{stringField("result", 1)}},
		},
	}

	p := New()
	if err := p.Add(&descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{fileDesc}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	want := map[string][2]bool{
		"Unary":        {false, false},
		"ClientStream": {true, false},
		"ServerStream": {false, true},
		"Bidi":         {true, true},
	}

	svc := p.ListServices()[0]
	for _, m := range svc.Methods {
		exp, ok := want[m.Name]
		if !ok {
			t.Errorf("unexpected method %s", m.Name)
			continue
		}
		if m.ClientStreaming != exp[0] || m.ServerStreaming != exp[1] {
			t.Errorf("method %s: got (client=%v,server=%v) want %v", m.Name, m.ClientStreaming, m.ServerStreaming, exp)
		}
	}
}

func TestConcurrentReaders(t *testing.T) {
	p := New()
	if err := p.Add(testFileDescriptorSet()); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				p.ListServices()
				p.GetStats()
				p.HasSymbol("test.v1.TestService")
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if len(p.ListServices()) != 1 {
		t.Error("pool inconsistent after concurrent reads")
	}
}
