package events

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"invoice-reconciliation-engine/pkg/errors"
	"invoice-reconciliation-engine/pkg/logger"
)

// PubSubConfig configures the Google Cloud Pub/Sub publisher
type PubSubConfig struct {
	ProjectID       string
	Topic           string
	CredentialsFile string
	// CreateTopic creates the topic when it does not exist yet
	CreateTopic bool
	// PublishTimeout bounds each publish; zero means 30 seconds
	PublishTimeout time.Duration
}

// Validate checks the configuration
func (c PubSubConfig) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "events.project", c.ProjectID, nil)
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "events.topic", c.Topic, nil)
	}
	return nil
}

// PubSubPublisher publishes events as JSON messages on one topic. The event
// type is also set as the "type" attribute so subscriptions can filter.
type PubSubPublisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	timeout time.Duration
	logger  logger.Logger
}

// NewPubSubPublisher connects to Pub/Sub. Extra client options (for example
// an emulator connection) are appended after the credentials option.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig, log logger.Logger, opts ...option.ClientOption) (*PubSubPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts...)

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, errors.NetworkError(errors.CodeConnectionFailed, "pubsub:"+cfg.ProjectID, err)
	}

	topic := client.Topic(cfg.Topic)
	if cfg.CreateTopic {
		exists, err := topic.Exists(ctx)
		if err != nil {
			client.Close()
			return nil, errors.NetworkError(errors.CodeServiceUnavailable, "pubsub topic "+cfg.Topic, err)
		}
		if !exists {
			if topic, err = client.CreateTopic(ctx, cfg.Topic); err != nil {
				client.Close()
				return nil, errors.NetworkError(errors.CodeServiceUnavailable, "create topic "+cfg.Topic, err)
			}
		}
	}

	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	log.WithComponent("events").WithFields(logger.Fields{
		"project_id": cfg.ProjectID,
		"topic":      cfg.Topic,
	}).Info("Pub/Sub publisher ready")

	return &PubSubPublisher{client: client, topic: topic, timeout: timeout, logger: log.WithComponent("events")}, nil
}

// Publish sends the event and waits for the server-assigned message id.
func (p *PubSubPublisher) Publish(ctx context.Context, event Event) error {
	data, err := event.Encode()
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode event", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"type": string(event.Type)},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return errors.NetworkError(errors.CodeServiceUnavailable, "publish "+string(event.Type), err)
	}

	p.logger.WithFields(logger.Fields{
		"event_type": event.Type,
		"message_id": id,
	}).Debug("Event published to Pub/Sub")
	return nil
}

// Close flushes pending messages and closes the client
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
