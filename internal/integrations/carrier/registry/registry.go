// Package registry resolves an integration's carrier code to a concrete adapter.
package registry

import (
	"os"

	"github.com/BearBump/FreightBox/internal/integrations/carrier"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/cmacgm"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/hapag"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/maersk"
	"github.com/BearBump/FreightBox/internal/integrations/carrier/msc"
	"github.com/BearBump/FreightBox/internal/models"
)

type constructor func(s carrier.Settings) carrier.Adapter

// constructorFor is the single place where a carrier code maps to an implementation.
func constructorFor(code carrier.Code) (constructor, bool) {
	switch code {
	case carrier.CodeMaersk:
		return func(s carrier.Settings) carrier.Adapter { return maersk.New(s) }, true
	case carrier.CodeMSC:
		return func(s carrier.Settings) carrier.Adapter { return msc.New(s) }, true
	case carrier.CodeCMACGM:
		return func(s carrier.Settings) carrier.Adapter { return cmacgm.New(s) }, true
	case carrier.CodeHapag:
		return func(s carrier.Settings) carrier.Adapter { return hapag.New(s) }, true
	default:
		return nil, false
	}
}

type Factory struct {
	getenv            func(string) string
	requestsPerSecond int
}

func New() *Factory {
	return &Factory{getenv: os.Getenv}
}

// WithGetenv overrides how credential env vars are read (tests).
func (f *Factory) WithGetenv(fn func(string) string) *Factory {
	if fn != nil {
		f.getenv = fn
	}
	return f
}

func (f *Factory) WithRequestsPerSecond(rps int) *Factory {
	if rps > 0 {
		f.requestsPerSecond = rps
	}
	return f
}

// Resolve builds the adapter for cfg. Unknown codes fail with carrier.ErrUnsupportedCarrier
// and a nil adapter.
func (f *Factory) Resolve(cfg *models.IntegrationConfig) (carrier.Adapter, error) {
	code, err := carrier.ParseCode(cfg.CarrierCode)
	if err != nil {
		return nil, err
	}
	ctor, ok := constructorFor(code)
	if !ok {
		return nil, carrier.ErrUnsupportedCarrier
	}

	s := carrier.Settings{
		Endpoint:          cfg.APIEndpoint,
		RequestsPerSecond: f.requestsPerSecond,
	}
	if cfg.APIKeyEnv != "" {
		s.APIKey = f.getenv(cfg.APIKeyEnv)
	}
	if cfg.WebhookSecretEnv != "" {
		s.WebhookSecret = f.getenv(cfg.WebhookSecretEnv)
	}
	return ctor(s), nil
}
