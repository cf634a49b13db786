package risk

import (
	"context"
	"log/slog"

	"github.com/BearBump/FreightBox/internal/broker/kafka"
	"github.com/BearBump/FreightBox/internal/broker/messages"
	"github.com/pkg/errors"
)

// NewRequestHandler adapts an assessor to the Kafka consumer loop.
// Undecodable messages are skipped; assessment errors stop the loop so the
// message is redelivered.
func NewRequestHandler(ctx context.Context, a ContainerAssessor) func(key, value []byte) error {
	return func(key, value []byte) error {
		msg, err := messages.UnmarshalRiskAssessmentRequested(value)
		if err != nil {
			slog.Warn("skip risk request", "key", string(key), "error", err.Error())
			return errors.Wrapf(kafka.ErrSkipMessage, "decode: %v", err)
		}
		if err := a.AssessContainer(ctx, msg.ContainerID); err != nil {
			return errors.Wrapf(err, "assess container %d", msg.ContainerID)
		}
		return nil
	}
}
