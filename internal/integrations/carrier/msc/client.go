package msc

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

const timeLayout = "2006-01-02 15:04:05"

type Client struct {
	carrier.Base
}

func New(s carrier.Settings) *Client {
	if s.Endpoint == "" {
		s.Endpoint = "https://api.msc.com/track"
	}
	return &Client{Base: carrier.NewBase(carrier.CodeMSC, s)}
}

type record struct {
	ContainerNo string `json:"container_no"`
	Status      string `json:"status"`
	Port        string `json:"port"`
	EventTime   string `json:"event_time"`
	Vessel      string `json:"vessel"`
	ETA         string `json:"eta"`
}

type listResp struct {
	Data []json.RawMessage `json:"data"`
}

type oneResp struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) FetchContainerData(ctx context.Context, containerNumber string) *carrier.CanonicalUpdate {
	var resp oneResp
	if err := c.Req.GetJSON(ctx, "/tracking/"+url.PathEscape(containerNumber), nil, &resp); err != nil {
		slog.Warn("msc fetch container", "container", containerNumber, "error", err.Error())
		return nil
	}
	u, ok := normalize(resp.Data)
	if !ok {
		return nil
	}
	return &u
}

func (c *Client) FetchBulkUpdates(ctx context.Context, since *time.Time) []carrier.CanonicalUpdate {
	q := url.Values{}
	if since != nil {
		q.Set("updated_after", since.UTC().Format(timeLayout))
	}
	var resp listResp
	if err := c.Req.GetJSON(ctx, "/tracking", q, &resp); err != nil {
		slog.Warn("msc fetch bulk updates", "error", err.Error())
		return []carrier.CanonicalUpdate{}
	}
	out := make([]carrier.CanonicalUpdate, 0, len(resp.Data))
	for _, raw := range resp.Data {
		if u, ok := normalize(raw); ok {
			out = append(out, u)
		}
	}
	return out
}

// ParseWebhook handles MSC pushes, which carry one record or an array of records.
func (c *Client) ParseWebhook(payload []byte) ([]carrier.CanonicalUpdate, error) {
	trimmed := bytes.TrimSpace(payload)
	var items []json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errors.Wrap(err, "decode msc webhook")
		}
	} else {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, errors.Wrap(err, "decode msc webhook")
		}
		items = []json.RawMessage{trimmed}
	}
	out := make([]carrier.CanonicalUpdate, 0, len(items))
	for _, raw := range items {
		if u, ok := normalize(raw); ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func normalize(raw json.RawMessage) (carrier.CanonicalUpdate, bool) {
	var r record
	if len(raw) == 0 || json.Unmarshal(raw, &r) != nil || r.ContainerNo == "" {
		return carrier.CanonicalUpdate{}, false
	}
	return carrier.CanonicalUpdate{
		ContainerNumber: r.ContainerNo,
		Status:          r.Status,
		Location:        carrier.StrPtr(r.Port),
		Timestamp:       carrier.ParseTime(r.EventTime, timeLayout, time.RFC3339),
		Vessel:          carrier.StrPtr(r.Vessel),
		ETA:             carrier.ParseTimePtr(r.ETA, timeLayout, "2006-01-02"),
		RawPayload:      raw,
	}, true
}
