package changefeed_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"gocloud.dev/pubsub"
	"gocloud.dev/pubsub/mempubsub"
	"golang.org/x/text/language"

	"github.com/pitabwire/lexicon/cache"
	"github.com/pitabwire/lexicon/changefeed"
	"github.com/pitabwire/lexicon/notify"
)

type channelSink chan notify.ChangeEvent

func (c channelSink) Publish(_ context.Context, ev notify.ChangeEvent) []cache.Key {
	c <- ev
	return nil
}

type ChangeFeedTestSuite struct {
	suite.Suite
}

func TestChangeFeedSuite(t *testing.T) {
	suite.Run(t, new(ChangeFeedTestSuite))
}

func (s *ChangeFeedTestSuite) TestRelayAppliesForeignEvents() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := mempubsub.NewTopic()
	defer func() { _ = topic.Shutdown(context.Background()) }()
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer func() { _ = sub.Shutdown(context.Background()) }()

	sink := make(channelSink, 4)
	local := changefeed.NewOrigin()
	relay := changefeed.NewRelay(sub, sink, local)

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	own := changefeed.NewPublisher(topic, local)
	remote := changefeed.NewPublisher(topic, changefeed.NewOrigin())
	s.NotEqual(own.Origin(), remote.Origin())

	s.Require().NoError(own.Publish(ctx, notify.ChangeEvent{Kind: notify.BundleReloaded}))
	s.Require().NoError(remote.Publish(ctx, notify.ChangeEvent{
		Kind:     notify.ValueChanged,
		Key:      "Greeting",
		Culture:  language.MustParse("fr-FR"),
		OldValue: "Salut",
		NewValue: "Bonjour",
		Sender:   "ignored",
	}))

	select {
	case ev := <-sink:
		s.Equal(notify.ValueChanged, ev.Kind)
		s.Equal("Greeting", ev.Key)
		s.Equal(language.MustParse("fr-FR"), ev.Culture)
		s.Equal("Bonjour", ev.NewValue)
		s.Nil(ev.Sender)
	case <-time.After(5 * time.Second):
		s.Fail("relayed event not applied")
	}

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("relay did not stop")
	}
	s.Empty(sink)
}

func (s *ChangeFeedTestSuite) TestUndecodableEventsAreDropped() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := mempubsub.NewTopic()
	defer func() { _ = topic.Shutdown(context.Background()) }()
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer func() { _ = sub.Shutdown(context.Background()) }()

	sink := make(channelSink, 2)
	relay := changefeed.NewRelay(sub, sink, "")
	go func() { _ = relay.Run(ctx) }()

	s.Require().NoError(topic.Send(ctx, &pubsub.Message{Body: []byte("{not json")}))
	s.Require().NoError(changefeed.NewPublisher(topic, "other").Publish(ctx, notify.ChangeEvent{Kind: notify.Other}))

	select {
	case ev := <-sink:
		s.Equal(notify.Other, ev.Kind)
	case <-time.After(5 * time.Second):
		s.Fail("valid event after a bad one was not applied")
	}
}

func (s *ChangeFeedTestSuite) TestOpenByURL() {
	ctx := context.Background()

	pub, err := changefeed.OpenPublisher(ctx, "mem://lexicon-changefeed-test", changefeed.NewOrigin())
	s.Require().NoError(err)
	s.Require().NoError(pub.Close(ctx))
	s.Require().Error(pub.Publish(ctx, notify.ChangeEvent{}))

	_, err = changefeed.OpenPublisher(ctx, "nope://topic", "x")
	s.Require().Error(err)
}

func (s *ChangeFeedTestSuite) TestPublishRacingClose() {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	defer func() { _ = topic.Shutdown(ctx) }()

	pub := changefeed.NewPublisher(topic, changefeed.NewOrigin())

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- pub.Publish(ctx, notify.ChangeEvent{Kind: notify.Other})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.NoError(pub.Close(ctx))
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			s.ErrorIs(err, changefeed.ErrPublisherClosed)
		}
	}
	s.ErrorIs(pub.Publish(ctx, notify.ChangeEvent{}), changefeed.ErrPublisherClosed)
	s.NoError(pub.Close(ctx))
}
