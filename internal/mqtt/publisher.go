package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/inference"
	"github.com/irdetect/autoannotate/internal/logger"
)

// DefaultTopic is the topic prefix used when none is configured.
const DefaultTopic = "autoannotate"

// RunMessage is the payload published for a finished run.
type RunMessage struct {
	RunID        string  `json:"run_id"`
	Project      string  `json:"project"`
	Subset       string  `json:"subset"`
	ModelFamily  string  `json:"model_family"`
	ModelVersion string  `json:"model_version"`
	Status       string  `json:"status"`
	Processed    int     `json:"processed"`
	Total        int     `json:"total"`
	Detections   int     `json:"detections"`
	Output       string  `json:"output,omitempty"`
	Error        string  `json:"error,omitempty"`
	DurationSec  float64 `json:"duration_seconds"`
}

// Publisher sends run notifications to <topic>/runs/<project>.
type Publisher struct {
	client Client
	topic  string
	log    logger.Logger
}

// NewPublisher returns a publisher using client.
func NewPublisher(client Client, topic string, log logger.Logger) *Publisher {
	topic = strings.Trim(strings.TrimSpace(topic), "/")
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = logger.Global().Module("mqtt")
	}
	return &Publisher{client: client, topic: topic, log: log}
}

// Topic returns the topic a project's runs are published on.
func (p *Publisher) Topic(project string) string {
	return path.Join(p.topic, "runs", project)
}

// PublishRun publishes a finished run. A disconnected client is reconnected
// once before giving up.
func (p *Publisher) PublishRun(ctx context.Context, run inference.RunInfo) error {
	payload, err := json.Marshal(RunMessage{
		RunID:        run.ID,
		Project:      run.Project,
		Subset:       run.Subset,
		ModelFamily:  run.ModelFamily,
		ModelVersion: run.ModelVersion,
		Status:       string(run.Status),
		Processed:    run.Processed,
		Total:        run.Total,
		Detections:   run.Detections,
		Output:       run.Output,
		Error:        run.Error,
		DurationSec:  run.Duration().Seconds(),
	})
	if err != nil {
		return errors.New(fmt.Errorf("encode run message: %w", err)).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Build()
	}

	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}

	topic := p.Topic(run.Project)
	if err := p.client.Publish(ctx, topic, payload); err != nil {
		return err
	}
	p.log.Debug("Run notification published", logger.String("topic", topic), logger.String("run_id", run.ID))
	return nil
}

// Close disconnects the client.
func (p *Publisher) Close() {
	p.client.Disconnect()
}
