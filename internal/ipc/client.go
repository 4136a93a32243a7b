package ipc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the daemon.
type Client struct {
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Quit asks the daemon to shut down. The daemon acknowledges before it
// starts tearing down.
func (c *Client) Quit(ctx context.Context) error {
	var resp QuitResponse
	return c.call(ctx, ServiceName+".Quit", QuitRequest{}, &resp)
}

// ServiceVersion returns the daemon's version.
func (c *Client) ServiceVersion(ctx context.Context) (string, error) {
	var resp ServiceVersionResponse
	if err := c.call(ctx, ServiceName+".ServiceVersion", ServiceVersionRequest{}, &resp); err != nil {
		return "", err
	}
	return resp.Version, nil
}

// call issues one request and waits for its reply or for ctx to end. A call
// abandoned on ctx closes the connection, so the client is unusable after.
func (c *Client) call(ctx context.Context, method string, args, reply any) error {
	pending := c.client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-pending.Done:
		return mapError(pending.Error)
	case <-ctx.Done():
		_ = c.client.Close()
		return ctx.Err()
	}
}

func mapError(err error) error {
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) && string(serverErr) == ErrShuttingDown.Error() {
		return ErrShuttingDown
	}
	return err
}
