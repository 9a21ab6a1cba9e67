package ipc

import (
	"encoding/json"

	"tillpoint/internal/api"
	"tillpoint/internal/settings"
	"tillpoint/internal/store"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the aggregated daemon status.
type StatusResponse = api.DaemonStatus

// ScaleStatusRequest fetches the scale session state.
type ScaleStatusRequest struct{}

// ScaleStatusResponse mirrors the HTTP scale status.
type ScaleStatusResponse = api.ScaleStatus

// ScaleReadRequest asks for the weight current as of AsOf. Empty means now.
type ScaleReadRequest struct {
	AsOf string `json:"asOf,omitempty"`
}

// ScaleReadResponse carries one weight.
type ScaleReadResponse = api.ScaleReading

// ScaleReconnectRequest closes and reopens the configured scale.
type ScaleReconnectRequest struct{}

// SerialDevicesRequest lists attached serial devices.
type SerialDevicesRequest struct{}

// SerialDevicesResponse wraps the device list.
type SerialDevicesResponse struct {
	Devices []api.SerialDevice `json:"devices"`
}

// SettingsGetRequest reads one key.
type SettingsGetRequest struct {
	Key string `json:"key"`
}

// SettingsGetResponse carries the JSON-encoded value of a key.
type SettingsGetResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SettingsSetRequest stores a JSON-encoded value under Key.
type SettingsSetRequest struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// SettingsDocument is the whole settings document.
type SettingsDocument = settings.Settings

// ProductListRequest lists the catalog.
type ProductListRequest struct{}

// ProductListResponse wraps the catalog.
type ProductListResponse struct {
	Products []api.Product `json:"products"`
}

// ProductRequest identifies one product.
type ProductRequest struct {
	ID string `json:"id"`
}

// ProductUpdateRequest patches one product.
type ProductUpdateRequest struct {
	ID    string             `json:"id"`
	Patch store.ProductPatch `json:"patch"`
}

// ProductDeleteResponse confirms a deletion.
type ProductDeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// SaleListRequest lists sales newest first; zero Limit means all.
type SaleListRequest struct {
	Limit int `json:"limit"`
}

// SaleListResponse wraps the sales.
type SaleListResponse struct {
	Sales []api.Sale `json:"sales"`
}

// Empty is the reply of calls that return nothing.
type Empty struct{}
