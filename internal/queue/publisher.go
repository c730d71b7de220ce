package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
)

// Publisher enqueues dispatch tasks, immediately or deferred. The queue
// is the system's scheduling primitive: retries rely on deferred publish
// honoring the requested delay.
type Publisher interface {
	PublishTask(topic string, t Task) error
	DeferTask(topic string, delay time.Duration, t Task) error
	PublishDeadLetter(topic string, d DeadLetter) error
}

// NSQPublisher publishes task envelopes to nsqd.
type NSQPublisher struct {
	producer *nsq.Producer
}

// NewNSQPublisher connects a producer to the given nsqd TCP address.
func NewNSQPublisher(nsqdTCPAddr string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(nsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create nsq producer: %w", err)
	}
	return &NSQPublisher{producer: producer}, nil
}

func (p *NSQPublisher) PublishTask(topic string, t Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := p.producer.Publish(topic, body); err != nil {
		return fmt.Errorf("publish task to %s: %w", topic, err)
	}
	return nil
}

// DeferTask publishes a task that nsqd holds back for delay before making
// it visible to consumers.
func (p *NSQPublisher) DeferTask(topic string, delay time.Duration, t Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := p.producer.DeferredPublish(topic, delay, body); err != nil {
		return fmt.Errorf("deferred publish task to %s: %w", topic, err)
	}
	return nil
}

func (p *NSQPublisher) PublishDeadLetter(topic string, d DeadLetter) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := p.producer.Publish(topic, body); err != nil {
		return fmt.Errorf("publish dead letter to %s: %w", topic, err)
	}
	return nil
}

// Stop flushes and shuts down the underlying producer.
func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}

var _ Publisher = (*NSQPublisher)(nil)
