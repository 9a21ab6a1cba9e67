package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"tillpoint/internal/api"
	"tillpoint/internal/config"
	"tillpoint/internal/logging"
	"tillpoint/internal/settings"
	"tillpoint/internal/store"
)

const (
	maxBodyBytes       = 1 << 20
	eventKeepAlive     = 15 * time.Second
	apiShutdownTimeout = 5 * time.Second
)

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	cancel   context.CancelFunc
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}
	srv.handler = srv.routes()
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/scale/status", s.handleScaleStatus)
	mux.HandleFunc("GET /api/scale/read", s.handleScaleRead)
	mux.HandleFunc("POST /api/scale/reconnect", s.handleScaleReconnect)
	mux.HandleFunc("GET /api/scale/events", s.handleScaleEvents)
	mux.HandleFunc("GET /api/usb/devices", s.handleSerialDevices)
	mux.HandleFunc("GET /api/settings", s.handleSettingsGetAll)
	mux.HandleFunc("PUT /api/settings", s.handleSettingsSetAll)
	mux.HandleFunc("GET /api/settings/{key}", s.handleSettingGet)
	mux.HandleFunc("PUT /api/settings/{key}", s.handleSettingSet)
	mux.HandleFunc("GET /api/products", s.handleProductList)
	mux.HandleFunc("POST /api/products", s.handleProductCreate)
	mux.HandleFunc("GET /api/products/{id}", s.handleProductGet)
	mux.HandleFunc("PATCH /api/products/{id}", s.handleProductUpdate)
	mux.HandleFunc("DELETE /api/products/{id}", s.handleProductDelete)
	mux.HandleFunc("POST /api/products/{id}/toggle", s.handleProductToggle)
	mux.HandleFunc("GET /api/sales", s.handleSaleList)
	mux.HandleFunc("POST /api/sales", s.handleSaleCreate)
	return s.authMiddleware(s.token, mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	baseCtx, cancel := context.WithCancel(ctx)
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server, cancel := s.server, s.cancel
	s.server, s.listener, s.cancel = nil, nil, nil
	s.mu.Unlock()

	// Cancelling the base context ends event streams so Shutdown can drain.
	if cancel != nil {
		cancel()
	}
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer done()
		_ = server.Shutdown(shutdownCtx)
	}
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleScaleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.ScaleStatus())
}

func (s *apiServer) handleScaleRead(w http.ResponseWriter, r *http.Request) {
	asOf, err := api.ParseTime(strings.TrimSpace(r.URL.Query().Get("asOf")))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	reading, err := s.daemon.ReadScale(asOf)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *apiServer) handleScaleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.ReconnectScale(r.Context()); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.ScaleStatus())
}

// handleScaleEvents streams connectivity changes as server-sent events. The
// current state is sent first so a late subscriber renders correctly.
func (s *apiServer) handleScaleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	events, cancel := s.daemon.SubscribeScaleEvents()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	current := s.daemon.ScaleStatus()
	if err := writeEvent(w, api.ScaleEvent{Connected: current.Connected, At: api.FormatTime(time.Now())}); err != nil {
		return
	}
	_ = rc.Flush()

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Another client subscribed; this stream yields to it.
				return
			}
			if err := writeEvent(w, api.FromStatusEvent(ev)); err != nil {
				return
			}
			_ = rc.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev api.ScaleEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	return err
}

func (s *apiServer) handleSerialDevices(w http.ResponseWriter, r *http.Request) {
	list, err := s.daemon.SerialDevices(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []api.SerialDevice{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) handleSettingsGetAll(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Settings())
}

func (s *apiServer) handleSettingsSetAll(w http.ResponseWriter, r *http.Request) {
	var doc settings.Settings
	if err := decodeBody(r, &doc); err != nil {
		s.writeFailure(w, err)
		return
	}
	if err := s.daemon.SetSettings(doc); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Settings())
}

func (s *apiServer) handleSettingGet(w http.ResponseWriter, r *http.Request) {
	value, err := s.daemon.Setting(r.PathValue("key"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *apiServer) handleSettingSet(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeFailure(w, fmt.Errorf("%w: read body: %v", api.ErrBadRequest, err))
		return
	}
	if !json.Valid(raw) {
		s.writeFailure(w, fmt.Errorf("%w: body is not valid JSON", api.ErrBadRequest))
		return
	}
	key := r.PathValue("key")
	if err := s.daemon.SetSetting(key, raw); err != nil {
		s.writeFailure(w, err)
		return
	}
	value, err := s.daemon.Setting(key)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, value)
}

func (s *apiServer) handleProductList(w http.ResponseWriter, r *http.Request) {
	products, err := s.daemon.ListProducts(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if products == nil {
		products = []store.Product{}
	}
	s.writeJSON(w, http.StatusOK, products)
}

func (s *apiServer) handleProductCreate(w http.ResponseWriter, r *http.Request) {
	in := store.ProductInput{InStock: true}
	if err := decodeBody(r, &in); err != nil {
		s.writeFailure(w, err)
		return
	}
	p, err := s.daemon.CreateProduct(r.Context(), in)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *apiServer) handleProductGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *apiServer) handleProductUpdate(w http.ResponseWriter, r *http.Request) {
	var patch store.ProductPatch
	if err := decodeBody(r, &patch); err != nil {
		s.writeFailure(w, err)
		return
	}
	p, err := s.daemon.UpdateProduct(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *apiServer) handleProductDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.DeleteProduct(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleProductToggle(w http.ResponseWriter, r *http.Request) {
	p, err := s.daemon.ToggleProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *apiServer) handleSaleList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeFailure(w, fmt.Errorf("%w: limit must be a non-negative integer", api.ErrBadRequest))
			return
		}
		limit = parsed
	}
	sales, err := s.daemon.ListSales(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if sales == nil {
		sales = []store.Sale{}
	}
	s.writeJSON(w, http.StatusOK, sales)
}

func (s *apiServer) handleSaleCreate(w http.ResponseWriter, r *http.Request) {
	var in store.SaleInput
	if err := decodeBody(r, &in); err != nil {
		s.writeFailure(w, err)
		return
	}
	sale, err := s.daemon.CreateSale(r.Context(), in)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sale)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode request body: %v", api.ErrBadRequest, err)
	}
	return nil
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	code := api.ErrorCode(err)
	statusCode := api.HTTPStatus(code)
	if statusCode >= http.StatusInternalServerError && code == api.CodeInternal {
		s.logger.Error("api request failed", logging.Error(err))
	}
	s.writeJSON(w, statusCode, api.ErrorResponse{Error: err.Error(), Code: code})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(payload); err != nil {
		s.logger.Warn("failed to encode api response",
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_encode_failed"),
			logging.String(logging.FieldErrorHint, "check client connection"),
			logging.String(logging.FieldImpact, "client received a truncated response"),
		)
	}
}
