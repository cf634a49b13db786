package messages

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// RiskAssessmentRequested asks the worker to recompute one container's risk score.
type RiskAssessmentRequested struct {
	RunID       string    `json:"run_id,omitempty"`
	ContainerID uint64    `json:"container_id"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// Key partitions by container so requests for one container stay ordered.
func (m RiskAssessmentRequested) Key() []byte {
	return []byte(strconv.FormatUint(m.ContainerID, 10))
}

func (m RiskAssessmentRequested) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "marshal risk request")
	}
	return b, nil
}

func UnmarshalRiskAssessmentRequested(b []byte) (RiskAssessmentRequested, error) {
	var m RiskAssessmentRequested
	if err := json.Unmarshal(b, &m); err != nil {
		return m, errors.Wrap(err, "unmarshal risk request")
	}
	if m.ContainerID == 0 {
		return m, errors.New("risk request without container_id")
	}
	return m, nil
}
