package cmacgm

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/pkg/errors"
)

type Client struct {
	carrier.Base
}

func New(s carrier.Settings) *Client {
	if s.Endpoint == "" {
		s.Endpoint = "https://apis.cma-cgm.net/operation/trackandtrace/v1"
	}
	return &Client{Base: carrier.NewBase(carrier.CodeCMACGM, s)}
}

type move struct {
	Code  string `json:"code"`
	Label string `json:"label"`
	Place string `json:"place"`
	// epoch milliseconds
	Date int64 `json:"date"`
}

type container struct {
	Reference  string `json:"reference"`
	LastMove   move   `json:"lastMove"`
	VesselName string `json:"vesselName"`
	// epoch milliseconds
	ETA int64 `json:"eta"`
}

type searchReq struct {
	UpdatedSince *string  `json:"updatedSince,omitempty"`
	References   []string `json:"references,omitempty"`
}

type searchResp struct {
	Containers []json.RawMessage `json:"containers"`
}

type webhookBody struct {
	Notifications []json.RawMessage `json:"notifications"`
}

func (c *Client) FetchContainerData(ctx context.Context, containerNumber string) *carrier.CanonicalUpdate {
	var resp searchResp
	if err := c.Req.PostJSON(ctx, "/tracking/search", searchReq{References: []string{containerNumber}}, &resp); err != nil {
		slog.Warn("cma cgm fetch container", "container", containerNumber, "error", err.Error())
		return nil
	}
	for _, u := range normalizeAll(resp.Containers) {
		if u.ContainerNumber == containerNumber {
			return &u
		}
	}
	return nil
}

func (c *Client) FetchBulkUpdates(ctx context.Context, since *time.Time) []carrier.CanonicalUpdate {
	req := searchReq{}
	if since != nil {
		s := since.UTC().Format(time.RFC3339)
		req.UpdatedSince = &s
	}
	var resp searchResp
	if err := c.Req.PostJSON(ctx, "/tracking/search", req, &resp); err != nil {
		slog.Warn("cma cgm fetch bulk updates", "error", err.Error())
		return []carrier.CanonicalUpdate{}
	}
	return normalizeAll(resp.Containers)
}

func (c *Client) ParseWebhook(payload []byte) ([]carrier.CanonicalUpdate, error) {
	var b webhookBody
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, errors.Wrap(err, "decode cma cgm webhook")
	}
	return normalizeAll(b.Notifications), nil
}

func normalizeAll(items []json.RawMessage) []carrier.CanonicalUpdate {
	out := make([]carrier.CanonicalUpdate, 0, len(items))
	for _, raw := range items {
		var ct container
		if json.Unmarshal(raw, &ct) != nil || ct.Reference == "" {
			continue
		}
		status := ct.LastMove.Label
		if status == "" {
			status = ct.LastMove.Code
		}
		ts := time.Now().UTC()
		if ct.LastMove.Date > 0 {
			ts = time.UnixMilli(ct.LastMove.Date).UTC()
		}
		var eta *time.Time
		if ct.ETA > 0 {
			e := time.UnixMilli(ct.ETA).UTC()
			eta = &e
		}
		out = append(out, carrier.CanonicalUpdate{
			ContainerNumber: ct.Reference,
			Status:          status,
			Location:        carrier.StrPtr(ct.LastMove.Place),
			Timestamp:       ts,
			Vessel:          carrier.StrPtr(ct.VesselName),
			ETA:             eta,
			RawPayload:      raw,
		})
	}
	return out
}
