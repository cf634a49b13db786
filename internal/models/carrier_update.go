package models

import "time"

type UpdateType string

const (
	UpdateTypeDeparture    UpdateType = "departure"
	UpdateTypeArrival      UpdateType = "arrival"
	UpdateTypeGate         UpdateType = "gate"
	UpdateTypeCustoms      UpdateType = "customs"
	UpdateTypeStatusUpdate UpdateType = "status_update"
)

// CarrierUpdate is one normalized observation. Processed flips false->true exactly once.
type CarrierUpdate struct {
	ID              uint64
	IntegrationID   uint64
	ContainerNumber string
	Carrier         string
	UpdateType      UpdateType
	Status          string
	Location        *string
	Timestamp       time.Time
	RawPayload      *string
	Processed       bool
	CreatedAt       time.Time
}

type CarrierUpdateInput struct {
	IntegrationID   uint64
	ContainerNumber string
	Carrier         string
	UpdateType      UpdateType
	Status          string
	Location        *string
	Timestamp       time.Time
	RawPayload      *string
}
