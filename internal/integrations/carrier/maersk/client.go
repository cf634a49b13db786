// Package maersk adapts the Maersk track & trace API (DCSA style events).
package maersk

import (
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
		s.Endpoint = "https://api.maersk.com/track-and-trace"
	}
	return &Client{Base: carrier.NewBase(carrier.CodeMaersk, s)}
}

type eventLocation struct {
	LocationName   string `json:"locationName"`
	UNLocationCode string `json:"UNLocationCode"`
}

type event struct {
	EquipmentReference     string        `json:"equipmentReference"`
	TransportEventTypeCode string        `json:"transportEventTypeCode"`
	Description            string        `json:"description"`
	EventDateTime          string        `json:"eventDateTime"`
	Location               eventLocation `json:"eventLocation"`
	VesselName             string        `json:"vesselName"`
	EstimatedArrival       string        `json:"estimatedArrival"`
}

type eventsResp struct {
	Events []json.RawMessage `json:"events"`
}

func (c *Client) FetchContainerData(ctx context.Context, containerNumber string) *carrier.CanonicalUpdate {
	var raw json.RawMessage
	if err := c.Req.GetJSON(ctx, "/containers/"+url.PathEscape(containerNumber), nil, &raw); err != nil {
		slog.Warn("maersk fetch container", "container", containerNumber, "error", err.Error())
		return nil
	}
	u, ok := normalize(raw)
	if !ok {
		return nil
	}
	return &u
}

func (c *Client) FetchBulkUpdates(ctx context.Context, since *time.Time) []carrier.CanonicalUpdate {
	q := url.Values{}
	if since != nil {
		q.Set("eventCreatedDateTime:gte", since.UTC().Format(time.RFC3339))
	}
	var resp eventsResp
	if err := c.Req.GetJSON(ctx, "/events", q, &resp); err != nil {
		slog.Warn("maersk fetch bulk updates", "error", err.Error())
		return []carrier.CanonicalUpdate{}
	}
	return normalizeAll(resp.Events)
}

// ParseWebhook accepts either {"events":[...]} or a single event object.
func (c *Client) ParseWebhook(payload []byte) ([]carrier.CanonicalUpdate, error) {
	var resp eventsResp
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, errors.Wrap(err, "decode maersk webhook")
	}
	if len(resp.Events) > 0 {
		return normalizeAll(resp.Events), nil
	}
	if u, ok := normalize(payload); ok {
		return []carrier.CanonicalUpdate{u}, nil
	}
	return []carrier.CanonicalUpdate{}, nil
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
	var e event
	if err := json.Unmarshal(raw, &e); err != nil || e.EquipmentReference == "" {
		return carrier.CanonicalUpdate{}, false
	}
	status := e.Description
	if status == "" {
		status = e.TransportEventTypeCode
	}
	loc := e.Location.LocationName
	if loc == "" {
		loc = e.Location.UNLocationCode
	}
	return carrier.CanonicalUpdate{
		ContainerNumber: e.EquipmentReference,
		Status:          status,
		Location:        carrier.StrPtr(loc),
		Timestamp:       carrier.ParseTime(e.EventDateTime, time.RFC3339),
		Vessel:          carrier.StrPtr(e.VesselName),
		ETA:             carrier.ParseTimePtr(e.EstimatedArrival, time.RFC3339),
		RawPayload:      raw,
	}, true
}
