package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"tillpoint/internal/api"
	"tillpoint/internal/store"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call issues method and waits for the reply or ctx, rebuilding coded errors.
func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	pending := c.client.Go(ServiceName+"."+method, req, resp, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-pending.Done:
		var serverErr rpc.ServerError
		if errors.As(done.Error, &serverErr) {
			return api.DecodeError(string(serverErr))
		}
		return done.Error
	}
}

// Status retrieves the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call(ctx, "Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ScaleStatus retrieves the scale session state.
func (c *Client) ScaleStatus(ctx context.Context) (*ScaleStatusResponse, error) {
	var resp ScaleStatusResponse
	if err := c.call(ctx, "ScaleStatus", ScaleStatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ScaleRead returns the weight current as of asOf; zero means now.
func (c *Client) ScaleRead(ctx context.Context, asOf time.Time) (*ScaleReadResponse, error) {
	var resp ScaleReadResponse
	if err := c.call(ctx, "ScaleRead", ScaleReadRequest{AsOf: api.FormatTime(asOf)}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadWeight lets the client drive a checkout weigher.
func (c *Client) ReadWeight(ctx context.Context, asOf time.Time) (float64, error) {
	resp, err := c.ScaleRead(ctx, asOf)
	if err != nil {
		return 0, err
	}
	return resp.Weight, nil
}

// ScaleReconnect closes and reopens the configured scale.
func (c *Client) ScaleReconnect(ctx context.Context) (*ScaleStatusResponse, error) {
	var resp ScaleStatusResponse
	if err := c.call(ctx, "ScaleReconnect", ScaleReconnectRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SerialDevices lists attached serial devices.
func (c *Client) SerialDevices(ctx context.Context) ([]api.SerialDevice, error) {
	var resp SerialDevicesResponse
	if err := c.call(ctx, "SerialDevices", SerialDevicesRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// SettingsGet returns the JSON value stored under key.
func (c *Client) SettingsGet(ctx context.Context, key string) (json.RawMessage, error) {
	var resp SettingsGetResponse
	if err := c.call(ctx, "SettingsGet", SettingsGetRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// SettingsGetAll returns the whole settings document.
func (c *Client) SettingsGetAll(ctx context.Context) (*SettingsDocument, error) {
	var resp SettingsDocument
	if err := c.call(ctx, "SettingsGetAll", Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SettingsSet stores a JSON value under key and returns the stored value.
func (c *Client) SettingsSet(ctx context.Context, key string, value json.RawMessage) (json.RawMessage, error) {
	var resp SettingsGetResponse
	if err := c.call(ctx, "SettingsSet", SettingsSetRequest{Key: key, Value: value}, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// SettingsSetAll replaces the settings document.
func (c *Client) SettingsSetAll(ctx context.Context, doc SettingsDocument) (*SettingsDocument, error) {
	var resp SettingsDocument
	if err := c.call(ctx, "SettingsSetAll", doc, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProductList returns the catalog.
func (c *Client) ProductList(ctx context.Context) ([]api.Product, error) {
	var resp ProductListResponse
	if err := c.call(ctx, "ProductList", ProductListRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Products, nil
}

// ProductGet returns one product.
func (c *Client) ProductGet(ctx context.Context, id string) (*api.Product, error) {
	var resp api.Product
	if err := c.call(ctx, "ProductGet", ProductRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProductCreate adds a product.
func (c *Client) ProductCreate(ctx context.Context, in store.ProductInput) (*api.Product, error) {
	var resp api.Product
	if err := c.call(ctx, "ProductCreate", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProductUpdate patches a product.
func (c *Client) ProductUpdate(ctx context.Context, id string, patch store.ProductPatch) (*api.Product, error) {
	var resp api.Product
	if err := c.call(ctx, "ProductUpdate", ProductUpdateRequest{ID: id, Patch: patch}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProductDelete removes a product.
func (c *Client) ProductDelete(ctx context.Context, id string) error {
	var resp ProductDeleteResponse
	return c.call(ctx, "ProductDelete", ProductRequest{ID: id}, &resp)
}

// ProductToggle flips a product's availability.
func (c *Client) ProductToggle(ctx context.Context, id string) (*api.Product, error) {
	var resp api.Product
	if err := c.call(ctx, "ProductToggle", ProductRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaleCreate records a checkout.
func (c *Client) SaleCreate(ctx context.Context, in store.SaleInput) (*api.Sale, error) {
	var resp api.Sale
	if err := c.call(ctx, "SaleCreate", in, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaleList returns sales newest first; zero limit means all.
func (c *Client) SaleList(ctx context.Context, limit int) ([]api.Sale, error) {
	var resp SaleListResponse
	if err := c.call(ctx, "SaleList", SaleListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Sales, nil
}
