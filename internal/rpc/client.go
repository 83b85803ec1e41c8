package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"

	"geocode_gateway/internal/cache"
)

// Client calls a remote Geocoder over an insecure connection.
type Client struct {
	conn *grpc.ClientConn
}

func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) Reverse(ctx context.Context, key cache.Key) (cache.Entry, string, error) {
	if c == nil || c.conn == nil {
		return cache.Entry{}, "", grpc.ErrClientConnClosing
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, ReverseMethod, NewReverseRequest(key), resp); err != nil {
		return cache.Entry{}, "", err
	}
	entry, source := EntryFromResponse(resp)
	return entry, source, nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
