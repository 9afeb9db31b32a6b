package transport

import (
	"fmt"
	"strings"
	"unicode"

	"google.golang.org/grpc/metadata"
)

// Header is one request metadata pair, in caller-supplied order.
type Header struct {
	Key   string
	Value string
}

// BuildMetadata validates and converts headers into gRPC outgoing
// metadata. Keys are lower-cased (gRPC metadata is case-insensitive);
// non-ASCII keys, non-printable values, and the reserved "grpc-" and ":"
// prefixes are rejected before any network I/O is attempted.
func BuildMetadata(headers []Header) (metadata.MD, error) {
	md := make(metadata.MD, len(headers))
	for _, h := range headers {
		key := strings.ToLower(strings.TrimSpace(h.Key))
		if key == "" {
			return nil, &InvalidMetadataError{Key: h.Key, Reason: "empty key"}
		}
		if !isASCII(key) {
			return nil, &InvalidMetadataError{Key: h.Key, Reason: "non-ASCII key"}
		}
		if strings.HasPrefix(key, "grpc-") || strings.HasPrefix(key, ":") {
			return nil, &InvalidMetadataError{Key: h.Key, Reason: "reserved header prefix"}
		}
		if !isPrintable(h.Value) {
			return nil, &InvalidMetadataError{Key: h.Key, Reason: "non-printable value"}
		}
		md[key] = append(md[key], h.Value)
	}
	return md, nil
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) && r != '\t' {
			return false
		}
	}
	return true
}

// InvalidMetadataError reports a header that failed validation before the
// call was dispatched.
type InvalidMetadataError struct {
	Key    string
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("transport: invalid metadata key %q: %s", e.Key, e.Reason)
}
