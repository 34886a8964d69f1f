// Package changefeed carries change events between processes over a gocloud.dev pubsub topic,
// so every instance invalidates the same cached results.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/pitabwire/natspubsub" // registers nats://
	"github.com/pitabwire/util"
	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub" // registers mem://

	"github.com/pitabwire/lexicon/cache"
	"github.com/pitabwire/lexicon/notify"
)

const (
	metadataOrigin = "lexicon-origin"
	metadataKind   = "lexicon-kind"

	shutdownTimeout = 30 * time.Second
)

// ErrPublisherClosed is returned by Publish once the publisher has been closed.
var ErrPublisherClosed = errors.New("publisher is closed")

// NewOrigin returns a fresh process identity for tagging published events.
func NewOrigin() string {
	return xid.New().String()
}

// Publisher sends change events to a topic.
type Publisher struct {
	url    string
	topic  atomic.Pointer[pubsub.Topic]
	origin string
	owned  bool
}

// NewPublisher wraps an opened topic. Closing the publisher leaves the topic open.
func NewPublisher(topic *pubsub.Topic, origin string) *Publisher {
	p := &Publisher{origin: origin}
	p.topic.Store(topic)
	return p
}

// OpenPublisher opens the topic at topicURL, e.g. "mem://lexicon" or "nats://lexicon.changes".
func OpenPublisher(ctx context.Context, topicURL, origin string) (*Publisher, error) {
	topic, err := pubsub.OpenTopic(ctx, topicURL)
	if err != nil {
		return nil, fmt.Errorf("could not open change topic: %w", err)
	}
	p := &Publisher{url: topicURL, origin: origin, owned: true}
	p.topic.Store(topic)
	return p, nil
}

// Origin is the identity attached to every event this publisher sends.
func (p *Publisher) Origin() string {
	return p.origin
}

// Publish encodes ev as JSON and sends it with the trace context of ctx.
func (p *Publisher) Publish(ctx context.Context, ev notify.ChangeEvent) error {
	topic := p.topic.Load()
	if topic == nil {
		return ErrPublisherClosed
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("could not encode change event: %w", err)
	}

	metadata := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, metadata)
	metadata[metadataOrigin] = p.origin
	metadata[metadataKind] = ev.Kind.String()

	return topic.Send(ctx, &pubsub.Message{
		Body:     body,
		Metadata: metadata,
	})
}

// Close shuts the topic down if the publisher opened it.
func (p *Publisher) Close(ctx context.Context) error {
	topic := p.topic.Swap(nil)
	if topic == nil || !p.owned {
		return nil
	}

	// mem:// topics are shared by URL within the process; shutting one down poisons later
	// users of the same URL.
	if strings.HasPrefix(strings.ToLower(p.url), "mem://") {
		return nil
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return topic.Shutdown(sctx)
}

// Sink applies relayed events, normally a *notify.Notifier.
type Sink interface {
	Publish(ctx context.Context, ev notify.ChangeEvent) []cache.Key
}

// Relay receives change events from a subscription and applies them to a sink.
type Relay struct {
	sub    *pubsub.Subscription
	sink   Sink
	origin string
	owned  bool
}

// NewRelay wraps an opened subscription. Events tagged with origin are acknowledged and
// skipped, as the sending process already applied them.
func NewRelay(sub *pubsub.Subscription, sink Sink, origin string) *Relay {
	return &Relay{sub: sub, sink: sink, origin: origin}
}

// OpenRelay opens the subscription at subscriptionURL.
func OpenRelay(ctx context.Context, subscriptionURL string, sink Sink, origin string) (*Relay, error) {
	sub, err := pubsub.OpenSubscription(ctx, subscriptionURL)
	if err != nil {
		return nil, fmt.Errorf("could not open change subscription: %w", err)
	}
	return &Relay{sub: sub, sink: sink, origin: origin, owned: true}, nil
}

// Run applies received events until ctx ends, which is not reported as an error. It blocks
// the calling goroutine.
func (r *Relay) Run(ctx context.Context) error {
	log := util.Log(ctx).WithField("component", "changefeed")
	log.Debug("relaying change events")

	for {
		msg, err := r.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not receive change event: %w", err)
		}

		r.handle(ctx, msg)
	}
}

func (r *Relay) handle(ctx context.Context, msg *pubsub.Message) {
	var metadata propagation.MapCarrier = msg.Metadata

	if r.origin != "" && metadata.Get(metadataOrigin) == r.origin {
		msg.Ack()
		return
	}

	pCtx := otel.GetTextMapPropagator().Extract(ctx, metadata)

	var ev notify.ChangeEvent
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		util.Log(pCtx).WithError(err).
			WithField("kind", metadata.Get(metadataKind)).
			Warn("dropping undecodable change event")
		msg.Ack()
		return
	}

	removed := r.sink.Publish(pCtx, ev)
	util.Log(pCtx).WithField("kind", ev.Kind.String()).
		WithField("key", ev.Key).
		WithField("invalidated", len(removed)).
		Debug("applied relayed change event")
	msg.Ack()
}

// Close shuts the subscription down if the relay opened it.
func (r *Relay) Close(ctx context.Context) error {
	if !r.owned || r.sub == nil {
		return nil
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := r.sub.Shutdown(sctx)
	r.sub = nil
	return err
}
