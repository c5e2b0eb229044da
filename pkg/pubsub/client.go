// Package pubsub holds the Google Pub/Sub client used by the outbox
// publisher. Publishers are created once per topic and flushed on Close.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/willshop/storefront/pkg/config"
	"github.com/willshop/storefront/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub orders topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects to Pub/Sub and fails fast when a configured topic is
// missing, since every order event would otherwise go terminal.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	ordersTopic := strings.TrimSpace(cfg.OrdersTopic)
	if ordersTopic == "" {
		return nil, errNoTopics
	}

	raw, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	c := &Client{
		client:     raw,
		projectID:  projectID,
		topics:     []string{ordersTopic},
		publishers: make(map[string]*pubsub.Publisher),
	}
	if err := c.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id":   projectID,
			"orders_topic": ordersTopic,
		}), "pubsub.connected")
	}
	return c, nil
}

// Publisher returns the shared publisher for a topic ID or full resource
// name, or nil when the name cannot be resolved.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	resource := topicResourceName(c.projectID, name)
	if resource == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[resource]; ok {
		return p
	}
	p := c.client.Publisher(resource)
	c.publishers[resource] = p
	return p
}

// Ping checks that every configured topic still exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	for _, topic := range c.topics {
		req := &pubsubpb.GetTopicRequest{Topic: topicResourceName(c.projectID, topic)}
		if _, err := c.client.TopicAdminClient.GetTopic(ctx, req); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("topic %q does not exist", topic)
			}
			return fmt.Errorf("get topic %q: %w", topic, err)
		}
	}
	return nil
}

// Close flushes outstanding messages on every publisher before closing.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for resource, p := range c.publishers {
		p.Stop()
		delete(c.publishers, resource)
	}
	c.mu.Unlock()
	return c.client.Close()
}

func topicResourceName(projectID, name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return ""
	case strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/"):
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/topics/" + name
}
