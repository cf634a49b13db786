package models

import "time"

const DefaultDailyFeeRate = 150.0

type Container struct {
	ID              uint64
	ContainerNumber string
	Status          string
	LastFreeDay     *time.Time
	DailyFeeRate    *float64
	DemurrageFee    float64
	RiskScore       int
	RiskLevel       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FeeRate returns the daily demurrage rate, falling back to def when unset.
func (c *Container) FeeRate(def float64) float64 {
	if c.DailyFeeRate != nil {
		return *c.DailyFeeRate
	}
	return def
}

// TimelineEvent is append-only.
type TimelineEvent struct {
	ID          uint64
	ContainerID uint64
	Title       string
	Location    string
	Timestamp   time.Time
	Completed   bool
	IsCurrent   bool
	CreatedAt   time.Time
}
