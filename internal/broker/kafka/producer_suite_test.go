package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/FreightBox/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type closingWriterMock struct {
	writerMock
	closed bool
}

func (m *closingWriterMock) Close() error {
	m.closed = true
	return nil
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm)
}

func (s *ProducerSuite) TestPublish_RiskRequestKeyedByContainer() {
	msg := messages.RiskAssessmentRequested{
		ContainerID: 42,
		Reason:      "carrier_update",
		RequestedAt: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	value, err := msg.Marshal()
	s.Require().NoError(err)

	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 {
				return false
			}
			got, err := messages.UnmarshalRiskAssessmentRequested(msgs[0].Value)
			return err == nil &&
				msgs[0].Topic == "container.risk.requested" &&
				string(msgs[0].Key) == "42" &&
				got.Reason == "carrier_update"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), "container.risk.requested", msg.Key(), value))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	want := errors.New("broker unavailable")
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(want).Once()

	err := s.p.Publish(context.Background(), "t", []byte("k"), []byte("v"))
	s.Require().ErrorIs(err, want)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestClose_DelegatesToWriter() {
	cw := &closingWriterMock{}
	s.Require().NoError(newProducerWithWriter(cw).Close())
	s.Require().True(cw.closed)
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}
