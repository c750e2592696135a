package api

import (
	"context"
	"io"
	"runtime"
	"strings"

	"github.com/sourcegraph/jsonrpc2"
)

// Client is the typed counterpart of RPC, for tooling and tests. Method names
// are resolved from the caller frame so client and server cannot drift apart
// silently.
type Client struct {
	c *jsonrpc2.Conn
}

func NewClient(rwc io.ReadWriteCloser) *Client {
	objStream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.PlainObjectCodec{})
	return &Client{c: jsonrpc2.NewConn(context.Background(), objStream, nil)}
}

func (c *Client) Close() error {
	return c.c.Close()
}

func (c *Client) EnsureChannel(ctx context.Context, req *EnsureChannelReq) (*ChannelRes, error) {
	var res ChannelRes
	if err := c.c.Call(ctx, currentMethodName(), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) SendMessage(ctx context.Context, req *SendMessageReq) (*MessageRes, error) {
	var res MessageRes
	if err := c.c.Call(ctx, currentMethodName(), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) EditMessage(ctx context.Context, req *EditMessageReq) (*MessageRes, error) {
	var res MessageRes
	if err := c.c.Call(ctx, currentMethodName(), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) DeleteMessage(ctx context.Context, req *DeleteMessageReq) error {
	var res struct{}
	return c.c.Call(ctx, currentMethodName(), req, &res)
}

func (c *Client) History(ctx context.Context, req *HistoryReq) (*HistoryRes, error) {
	var res HistoryRes
	if err := c.c.Call(ctx, currentMethodName(), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func currentMethodName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(2, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	parts := strings.Split(caller.Name(), ".")
	return parts[len(parts)-1]
}
