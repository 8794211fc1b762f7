// Package notify publishes job and run outcomes to a message topic.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/sourceplane/litepipe/internal/model"
)

const (
	DefaultTopic = "litepipe.runs"

	EventTypeMetadataKey = "event_type"
	RunIDMetadataKey     = "run_id"

	JobFinishedEvent = "job.finished"
	RunFinishedEvent = "run.finished"
)

// JobFinished is published once per job when its status is final
type JobFinished struct {
	RunID      string          `json:"runId"`
	Pipeline   string          `json:"pipeline"`
	Event      model.Event     `json:"event"`
	Job        model.JobResult `json:"job"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// RunFinished is published when every job of a run is final
type RunFinished struct {
	Run *model.RunResult `json:"run"`
}

// Publisher emits outcome messages on a watermill publisher
type Publisher struct {
	publisher message.Publisher
	topic     string
}

// NewPublisher wraps pub; an empty topic selects DefaultTopic
func NewPublisher(pub message.Publisher, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{publisher: pub, topic: topic}
}

// Topic returns the topic messages are published to
func (p *Publisher) Topic() string {
	return p.topic
}

func (p *Publisher) JobFinished(ctx context.Context, run *model.RunResult, job model.JobResult) error {
	return p.publish(ctx, JobFinishedEvent, run.ID, JobFinished{
		RunID:      run.ID,
		Pipeline:   run.Pipeline,
		Event:      run.Event,
		Job:        job,
		FinishedAt: job.FinishedAt,
	})
}

func (p *Publisher) RunFinished(ctx context.Context, run *model.RunResult) error {
	return p.publish(ctx, RunFinishedEvent, run.ID, RunFinished{Run: run})
}

func (p *Publisher) publish(ctx context.Context, eventType, runID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", eventType, err)
	}

	msg := message.NewMessage("msg-"+watermill.NewULID(), data)
	msg.Metadata.Set(EventTypeMetadataKey, eventType)
	msg.Metadata.Set(RunIDMetadataKey, runID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s for run %s: %w", eventType, runID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.publisher.Close()
}
