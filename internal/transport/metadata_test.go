package transport

import "testing"

func TestBuildMetadata_Valid(t *testing.T) {
	md, err := BuildMetadata([]Header{
		{Key: "Authorization", Value: "Bearer abc"},
		{Key: "x-request-id", Value: "123"},
	})
	if err != nil {
		t.Fatalf("BuildMetadata failed: %v", err)
	}

	if got := md.Get("authorization"); len(got) != 1 || got[0] != "Bearer abc" {
		t.Errorf("expected lower-cased authorization key, got %v", md)
	}
}

func TestBuildMetadata_ReservedPrefix(t *testing.T) {
	_, err := BuildMetadata([]Header{{Key: "grpc-timeout", Value: "1S"}})
	if err == nil {
		t.Fatal("expected error for reserved grpc- prefix")
	}
	if _, ok := err.(*InvalidMetadataError); !ok {
		t.Errorf("expected *InvalidMetadataError, got %T", err)
	}
}

func TestBuildMetadata_PseudoHeaderPrefix(t *testing.T) {
	_, err := BuildMetadata([]Header{{Key: ":authority", Value: "example.com"}})
	if err == nil {
		t.Fatal("expected error for : prefix")
	}
}

func TestBuildMetadata_NonASCIIKey(t *testing.T) {
	_, err := BuildMetadata([]Header{{Key: "x-café", Value: "v"}})
	if err == nil {
		t.Fatal("expected error for non-ASCII key")
	}
}

func TestBuildMetadata_NonPrintableValue(t *testing.T) {
	_, err := BuildMetadata([]Header{{Key: "x-data", Value: "abc\x00def"}})
	if err == nil {
		t.Fatal("expected error for non-printable value")
	}
}

func TestBuildMetadata_Empty(t *testing.T) {
	md, err := BuildMetadata(nil)
	if err != nil {
		t.Fatalf("expected no error for empty headers, got %v", err)
	}
	if len(md) != 0 {
		t.Errorf("expected empty metadata, got %v", md)
	}
}
