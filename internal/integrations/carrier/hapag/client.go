package hapag

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"time"

	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/pkg/errors"
)

type Client struct {
	carrier.Base
}

func New(s carrier.Settings) *Client {
	if s.Endpoint == "" {
		s.Endpoint = "https://api.hlag.com/hlag/external"
	}
	return &Client{Base: carrier.NewBase(carrier.CodeHapag, s)}
}

type place struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type shipment struct {
	ContainerID string `json:"containerId"`
	StatusText  string `json:"statusText"`
	Place       place  `json:"place"`
	Timestamp   string `json:"timestamp"`
	Vessel      string `json:"vessel"`
	ETA         string `json:"eta"`
}

func (c *Client) FetchContainerData(ctx context.Context, containerNumber string) *carrier.CanonicalUpdate {
	var raw json.RawMessage
	if err := c.Req.GetJSON(ctx, "/v1/containers/"+url.PathEscape(containerNumber)+"/latest", nil, &raw); err != nil {
		slog.Warn("hapag fetch container", "container", containerNumber, "error", err.Error())
		return nil
	}
	if u, ok := normalize(raw); ok {
		return &u
	}
	return nil
}

func (c *Client) FetchBulkUpdates(ctx context.Context, since *time.Time) []carrier.CanonicalUpdate {
	q := url.Values{}
	if since != nil {
		q.Set("from", since.UTC().Format(time.RFC3339))
	}
	var items []json.RawMessage
	if err := c.Req.GetJSON(ctx, "/v1/shipments/updates", q, &items); err != nil {
		slog.Warn("hapag fetch bulk updates", "error", err.Error())
		return []carrier.CanonicalUpdate{}
	}
	return normalizeAll(items)
}

func (c *Client) ParseWebhook(payload []byte) ([]carrier.CanonicalUpdate, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.Wrap(err, "decode hapag webhook")
		}
		return normalizeAll(items), nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("decode hapag webhook: invalid json")
	}
	return normalizeAll([]json.RawMessage{trimmed}), nil
}

func normalizeAll(items []json.RawMessage) []carrier.CanonicalUpdate {
	out := make([]carrier.CanonicalUpdate, 0, len(items))
	for _, raw := range items {
		if u, ok := normalize(raw); ok {
			out = append(out, u)
		}
	}
	return out
}

func normalize(raw json.RawMessage) (carrier.CanonicalUpdate, bool) {
	var s shipment
	if json.Unmarshal(raw, &s) != nil || s.ContainerID == "" {
		return carrier.CanonicalUpdate{}, false
	}
	loc := s.Place.Name
	if loc == "" {
		loc = s.Place.Code
	}
	return carrier.CanonicalUpdate{
		ContainerNumber: s.ContainerID,
		Status:          s.StatusText,
		Location:        carrier.StrPtr(loc),
		Timestamp:       carrier.ParseTime(s.Timestamp, time.RFC3339),
		Vessel:          carrier.StrPtr(s.Vessel),
		ETA:             carrier.ParseTimePtr(s.ETA, time.RFC3339),
		RawPayload:      raw,
	}, true
}
