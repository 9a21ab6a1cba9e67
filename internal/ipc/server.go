package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"tillpoint/internal/api"
	"tillpoint/internal/daemon"
	"tillpoint/internal/logging"
	"tillpoint/internal/store"
)

// ServiceName is the RPC service every method is registered under.
const ServiceName = "Tillpoint"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve starts accepting RPC connections until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
				)
				continue
			}
			s.track(conn, true)
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.track(c, false)
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
		return
	}
	delete(s.conns, conn)
}

// Close stops the server, drops open client connections, and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status()
	return nil
}

func (s *service) ScaleStatus(_ ScaleStatusRequest, resp *ScaleStatusResponse) error {
	*resp = s.daemon.ScaleStatus()
	return nil
}

func (s *service) ScaleRead(req ScaleReadRequest, resp *ScaleReadResponse) error {
	asOf, err := api.ParseTime(req.AsOf)
	if err != nil {
		return api.EncodeError(err)
	}
	reading, err := s.daemon.ReadScale(asOf)
	if err != nil {
		return api.EncodeError(err)
	}
	*resp = reading
	return nil
}

func (s *service) ScaleReconnect(_ ScaleReconnectRequest, resp *ScaleStatusResponse) error {
	s.logger.Debug("scale reconnect requested")
	if err := s.daemon.ReconnectScale(s.ctx); err != nil {
		return api.EncodeError(err)
	}
	*resp = s.daemon.ScaleStatus()
	return nil
}

func (s *service) SerialDevices(_ SerialDevicesRequest, resp *SerialDevicesResponse) error {
	list, err := s.daemon.SerialDevices(s.ctx)
	if err != nil {
		return api.EncodeError(err)
	}
	resp.Devices = list
	return nil
}

func (s *service) SettingsGet(req SettingsGetRequest, resp *SettingsGetResponse) error {
	value, err := s.daemon.Setting(req.Key)
	if err != nil {
		return api.EncodeError(err)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return api.EncodeError(err)
	}
	resp.Key = req.Key
	resp.Value = raw
	return nil
}

func (s *service) SettingsGetAll(_ Empty, resp *SettingsDocument) error {
	*resp = s.daemon.Settings()
	return nil
}

func (s *service) SettingsSet(req SettingsSetRequest, resp *SettingsGetResponse) error {
	if len(req.Value) == 0 {
		return api.EncodeError(fmt.Errorf("%w: value is required", api.ErrBadRequest))
	}
	if err := s.daemon.SetSetting(req.Key, req.Value); err != nil {
		return api.EncodeError(err)
	}
	return s.SettingsGet(SettingsGetRequest{Key: req.Key}, resp)
}

func (s *service) SettingsSetAll(req SettingsDocument, resp *SettingsDocument) error {
	if err := s.daemon.SetSettings(req); err != nil {
		return api.EncodeError(err)
	}
	*resp = s.daemon.Settings()
	return nil
}

func (s *service) ProductList(_ ProductListRequest, resp *ProductListResponse) error {
	products, err := s.daemon.ListProducts(s.ctx)
	if err != nil {
		return api.EncodeError(err)
	}
	resp.Products = products
	return nil
}

func (s *service) ProductGet(req ProductRequest, resp *api.Product) error {
	p, err := s.daemon.GetProduct(s.ctx, req.ID)
	if err != nil {
		return api.EncodeError(err)
	}
	*resp = *p
	return nil
}

func (s *service) ProductCreate(req store.ProductInput, resp *api.Product) error {
	p, err := s.daemon.CreateProduct(s.ctx, req)
	if err != nil {
		return api.EncodeError(err)
	}
	*resp = *p
	return nil
}

func (s *service) ProductUpdate(req ProductUpdateRequest, resp *api.Product) error {
	p, err := s.daemon.UpdateProduct(s.ctx, req.ID, req.Patch)
	if err != nil {
		return api.EncodeError(err)
	}
	*resp = *p
	return nil
}

func (s *service) ProductDelete(req ProductRequest, resp *ProductDeleteResponse) error {
	if err := s.daemon.DeleteProduct(s.ctx, req.ID); err != nil {
		return api.EncodeError(err)
	}
	resp.Deleted = true
	return nil
}

func (s *service) ProductToggle(req ProductRequest, resp *api.Product) error {
	p, err := s.daemon.ToggleProduct(s.ctx, req.ID)
	if err != nil {
		return api.EncodeError(err)
	}
	*resp = *p
	return nil
}

func (s *service) SaleCreate(req store.SaleInput, resp *api.Sale) error {
	sale, err := s.daemon.CreateSale(s.ctx, req)
	if err != nil {
		return api.EncodeError(err)
	}
	*resp = *sale
	return nil
}

func (s *service) SaleList(req SaleListRequest, resp *SaleListResponse) error {
	if req.Limit < 0 {
		return api.EncodeError(fmt.Errorf("%w: limit must be non-negative", api.ErrBadRequest))
	}
	sales, err := s.daemon.ListSales(s.ctx, req.Limit)
	if err != nil {
		return api.EncodeError(err)
	}
	resp.Sales = sales
	return nil
}
