package reflection

import (
	"google.golang.org/protobuf/types/descriptorpb"

	"golang.org/x/sync/singleflight"
)

// InFlightResolver serializes concurrent ResolveSymbol calls for the same
// symbol onto a single reflection round-trip. Two goroutines that both
// discover they're missing the same symbol at the same time share one
// fetch instead of racing the server twice.
type InFlightResolver struct {
	client *Client
	group  singleflight.Group
}

// NewInFlightResolver wraps a reflection Client with per-symbol dedup.
func NewInFlightResolver(client *Client) *InFlightResolver {
	return &InFlightResolver{client: client}
}

// ResolveSymbol resolves symbol, collapsing concurrent callers asking for
// the same symbol into a single underlying fetch. Every caller gets the
// same result: the same error value, or the same FileDescriptorSet, which
// is shared and must be treated as read-only by callers.
func (r *InFlightResolver) ResolveSymbol(symbol string) (*descriptorpb.FileDescriptorSet, error) {
	v, err, _ := r.group.Do(symbol, func() (interface{}, error) {
		return r.client.ResolveSymbol(symbol)
	})
	if err != nil {
		return nil, err
	}
	return v.(*descriptorpb.FileDescriptorSet), nil
}
