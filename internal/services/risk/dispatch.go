package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/FreightBox/internal/broker/messages"
)

const defaultDispatchTimeout = 30 * time.Second

type ContainerAssessor interface {
	AssessContainer(ctx context.Context, containerID uint64) error
}

// AsyncDispatcher runs assessments in background goroutines. Failures and
// panics stay inside the goroutine and are only logged.
type AsyncDispatcher struct {
	assessor ContainerAssessor
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewAsyncDispatcher(assessor ContainerAssessor) *AsyncDispatcher {
	return &AsyncDispatcher{assessor: assessor, timeout: defaultDispatchTimeout}
}

func (d *AsyncDispatcher) WithTimeout(timeout time.Duration) *AsyncDispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *AsyncDispatcher) Dispatch(containerID uint64, reason string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("risk assessment panicked", "container_id", containerID, "panic", r)
			}
		}()
		// Detached from the caller: the update request may already be finished.
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.assessor.AssessContainer(ctx, containerID); err != nil {
			slog.Warn("risk assessment failed", "container_id", containerID, "reason", reason, "error", err.Error())
		}
	}()
}

// Wait blocks until every dispatched assessment has returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// BrokerDispatcher hands assessments to the worker over Kafka.
type BrokerDispatcher struct {
	pub     Publisher
	topic   string
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewBrokerDispatcher(pub Publisher, topic string) *BrokerDispatcher {
	return &BrokerDispatcher{pub: pub, topic: topic, timeout: 10 * time.Second, now: time.Now}
}

func (d *BrokerDispatcher) Dispatch(containerID uint64, reason string) {
	msg := messages.RiskAssessmentRequested{
		ContainerID: containerID,
		Reason:      reason,
		RequestedAt: d.now().UTC(),
	}
	b, err := msg.Marshal()
	if err != nil {
		slog.Error("risk request encode", "container_id", containerID, "error", err.Error())
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.pub.Publish(ctx, d.topic, msg.Key(), b); err != nil {
			slog.Warn("risk request publish failed", "container_id", containerID, "topic", d.topic, "error", err.Error())
		}
	}()
}

func (d *BrokerDispatcher) Wait() {
	d.wg.Wait()
}
