package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tillpoint/internal/api"
	"tillpoint/internal/store"
	"tillpoint/internal/testsupport"
)

func newTestServer(t *testing.T, h *harness) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h.daemon.api.handler)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPIProductLifecycle(t *testing.T) {
	h := newHarness(t, false)
	srv := newTestServer(t, h)

	var created store.Product
	code := doJSON(t, http.MethodPost, srv.URL+"/api/products",
		map[string]any{"name": "Tomate", "price": 7.9, "unitType": "kg"}, &created)
	if code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if !created.InStock {
		t.Fatal("new products default to in stock")
	}

	var toggled store.Product
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/products/"+created.ID+"/toggle", nil, &toggled); code != http.StatusOK {
		t.Fatalf("toggle status = %d", code)
	}
	if toggled.InStock {
		t.Fatal("expected product out of stock after toggle")
	}

	var patched store.Product
	if code := doJSON(t, http.MethodPatch, srv.URL+"/api/products/"+created.ID, map[string]any{"price": 8.5}, &patched); code != http.StatusOK {
		t.Fatalf("patch status = %d", code)
	}
	if patched.Price != 8.5 || patched.Name != "Tomate" {
		t.Fatalf("unexpected patched product: %+v", patched)
	}

	var list []store.Product
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/products", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("list status = %d, len = %d", code, len(list))
	}

	if code := doJSON(t, http.MethodDelete, srv.URL+"/api/products/"+created.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}
	var failure api.ErrorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/products/"+created.ID, nil, &failure); code != http.StatusNotFound {
		t.Fatalf("get deleted status = %d", code)
	}
	if failure.Code != api.CodeNotFound {
		t.Fatalf("expected not_found code, got %q", failure.Code)
	}
}

func TestAPIRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, false)
	srv := newTestServer(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown field", http.MethodPost, "/api/products", map[string]any{"name": "X", "price": 1, "unitType": "un", "color": "red"}, http.StatusBadRequest, api.CodeBadRequest},
		{"bad unit", http.MethodPost, "/api/products", map[string]any{"name": "X", "price": 1, "unitType": "box"}, http.StatusBadRequest, api.CodeInvalid},
		{"empty sale", http.MethodPost, "/api/sales", map[string]any{"method": "cash", "items": []any{}}, http.StatusBadRequest, api.CodeInvalid},
		{"unknown setting", http.MethodPut, "/api/settings/printer", "x", http.StatusBadRequest, api.CodeUnknownKey},
		{"bad theme", http.MethodPut, "/api/settings/theme", "neon", http.StatusBadRequest, api.CodeInvalidSetting},
		{"bad as-of", http.MethodGet, "/api/scale/read?asOf=yesterday", nil, http.StatusBadRequest, api.CodeBadRequest},
		{"bad limit", http.MethodGet, "/api/sales?limit=-1", nil, http.StatusBadRequest, api.CodeBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var failure api.ErrorResponse
			if code := doJSON(t, tc.method, srv.URL+tc.path, tc.body, &failure); code != tc.status {
				t.Fatalf("status = %d, want %d (%+v)", code, tc.status, failure)
			}
			if failure.Code != tc.code {
				t.Fatalf("code = %q, want %q", failure.Code, tc.code)
			}
		})
	}
}

func TestAPISaleRoundTrip(t *testing.T) {
	h := newHarness(t, false)
	srv := newTestServer(t, h)
	product := testsupport.NewProduct(t, h.daemon.store, "Banana", 5.5, store.UnitKilogram)

	input := store.SaleInput{
		Method:   store.PaymentPix,
		Subtotal: 11,
		Total:    11,
		Items:    []store.SaleItemInput{{ProductID: product.ID, Quantity: 2, UnitPrice: 5.5}},
	}
	var sale store.Sale
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/sales", input, &sale); code != http.StatusCreated {
		t.Fatalf("create sale status = %d", code)
	}
	if len(sale.Items) != 1 || sale.Items[0].ProductName != "Banana" {
		t.Fatalf("unexpected sale items: %+v", sale.Items)
	}

	var sales []store.Sale
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/sales?limit=5", nil, &sales); code != http.StatusOK || len(sales) != 1 {
		t.Fatalf("list sales status = %d, len = %d", code, len(sales))
	}
}

func TestAPIScaleEndpointsWithoutSession(t *testing.T) {
	h := newHarness(t, false)
	srv := newTestServer(t, h)

	var status api.ScaleStatus
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/scale/status", nil, &status); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if status.Connected || status.Configured || status.State != "closed" {
		t.Fatalf("unexpected idle status: %+v", status)
	}

	var failure api.ErrorResponse
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/scale/read", nil, &failure); code != http.StatusServiceUnavailable {
		t.Fatalf("read code = %d", code)
	}
	if code := doJSON(t, http.MethodPost, srv.URL+"/api/scale/reconnect", nil, &failure); code != http.StatusNotFound || failure.Code != api.CodeNoScaleConfigured {
		t.Fatalf("reconnect = %d %q", code, failure.Code)
	}

	var list []api.SerialDevice
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/usb/devices", nil, &list); code != http.StatusOK {
		t.Fatalf("devices code = %d", code)
	}
	if len(list) != 1 || list[0].Name != "Prix 4 Uno" || list[0].Manufacturer != "Toledo" {
		t.Fatalf("unexpected device list: %+v", list)
	}
}

func TestAPIScaleEventsStream(t *testing.T) {
	h := newHarness(t, false)
	srv := newTestServer(t, h)

	resp, err := http.Get(srv.URL + "/api/scale/events")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() api.ScaleEvent {
		t.Helper()
		for lines.Scan() {
			payload, ok := strings.CutPrefix(lines.Text(), "data: ")
			if !ok {
				continue
			}
			var ev api.ScaleEvent
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			return ev
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return api.ScaleEvent{}
	}

	if first := next(); first.Connected {
		t.Fatal("initial event should report disconnected")
	}
	h.daemon.status.Publish(true)
	if ev := next(); !ev.Connected || ev.At == "" {
		t.Fatalf("expected connected event, got %+v", ev)
	}
}

func TestAPITokenGuardsRequests(t *testing.T) {
	h := newHarness(t, false, testsupport.WithAPIToken("s3cret"))
	srv := newTestServer(t, h)

	send := func(t *testing.T, method, path, auth string, body string) *http.Response {
		t.Helper()
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req, err := http.NewRequest(method, srv.URL+path, reader)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	cases := []struct {
		name   string
		method string
		path   string
		auth   string
	}{
		{"missing header", http.MethodDelete, "/api/products/any", ""},
		{"wrong scheme", http.MethodPut, "/api/settings/theme", "Basic s3cret"},
		{"wrong token", http.MethodPost, "/api/sales", "Bearer nope"},
		{"read without token", http.MethodGet, "/api/sales", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := send(t, tc.method, tc.path, tc.auth, `{}`)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
			if resp.Header.Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
			var body api.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != api.CodeUnauthorized {
				t.Fatalf("code = %q", body.Code)
			}
		})
	}

	resp := send(t, http.MethodPost, "/api/products", "Bearer s3cret", `{"name":"Arroz","price":5,"unitType":"un"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("authorized create status = %d", resp.StatusCode)
	}
	resp = send(t, http.MethodGet, "/api/products", "Bearer s3cret", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authorized list status = %d", resp.StatusCode)
	}
}

func TestAPIWithoutTokenIsOpen(t *testing.T) {
	h := newHarness(t, false)
	srv := newTestServer(t, h)

	var products []store.Product
	if code := doJSON(t, http.MethodGet, srv.URL+"/api/products", nil, &products); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
}
