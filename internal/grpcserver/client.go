package grpcserver

import (
	"context"

	"github.com/MarkoPoloResearchLab/spacebook/pkg/booking"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client invokes ReservationService methods on behalf of one actor.
type Client struct {
	conn  grpc.ClientConnInterface
	actor booking.Actor
}

// NewClient wraps an established connection.
func NewClient(conn grpc.ClientConnInterface, actor booking.Actor) *Client {
	return &Client{conn: conn, actor: actor}
}

// Call sends request to method and returns the decoded response fields.
func (client *Client) Call(ctx context.Context, method string, request map[string]any) (map[string]any, error) {
	payload, err := structpb.NewStruct(request)
	if err != nil {
		return nil, err
	}
	pairs := []string{MetadataRole, client.actor.Role.String()}
	if !client.actor.HolderID.IsZero() {
		pairs = append(pairs, MetadataHolderID, client.actor.HolderID.String())
	}
	outgoing := metadata.AppendToOutgoingContext(ctx, pairs...)
	response := new(structpb.Struct)
	if err := client.conn.Invoke(outgoing, FullMethod(method), payload, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}
