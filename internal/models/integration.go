package models

import "time"

// IntegrationConfig is a configured connection to one carrier's tracking API.
// Credentials are never stored: APIKeyEnv names the env var holding the bearer token.
type IntegrationConfig struct {
	ID                     uint64
	Name                   string
	CarrierCode            string
	APIEndpoint            string
	APIKeyEnv              string
	WebhookSecretEnv       string
	PollingIntervalMinutes int
	IsActive               bool
	LastSyncAt             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

const (
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

type IntegrationSyncLog struct {
	ID               uint64
	IntegrationID    uint64
	Status           string
	RecordsProcessed int
	RecordsUpdated   int
	RecordsFailed    int
	DurationMs       int64
	ErrorMessage     *string
	Metadata         map[string]any
	CreatedAt        time.Time
}
