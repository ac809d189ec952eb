package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mediaguard/internal/biz"
	"mediaguard/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/nats-io/nats.go"
)

const defaultDecisionSubject = "moderation.decisions"

type natsPublisher struct {
	nc      *nats.Conn
	subject string
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *biz.DecisionEvent) error { return nil }

// NewDecisionPublisher connects to NATS, or returns a no-op publisher when
// disabled.
func NewDecisionPublisher(c *conf.Data, logger log.Logger) (biz.DecisionPublisher, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/events"))
	if c.Nats == nil || !c.Nats.Enabled {
		helper.Info("decision events disabled")
		return noopPublisher{}, func() {}, nil
	}

	nc, err := nats.Connect(c.Nats.URL,
		nats.Name("mediaguard"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	subject := c.Nats.Subject
	if subject == "" {
		subject = defaultDecisionSubject
	}
	helper.Infof("publishing decisions to %s.<content_type>", subject)

	cleanup := func() {
		helper.Info("draining NATS connection")
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return &natsPublisher{nc: nc, subject: subject}, cleanup, nil
}

func (p *natsPublisher) Publish(_ context.Context, ev *biz.DecisionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	if err := p.nc.Publish(p.subject+"."+ev.ContentType, payload); err != nil {
		return fmt.Errorf("publish decision: %w", err)
	}
	return nil
}
