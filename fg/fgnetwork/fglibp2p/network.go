// Package fglibp2p adapts a libp2p gossipsub node
// to the [fgnetwork.Network] capability.
//
// Each (round, set) pair and each set's commit channel
// maps to its own gossipsub topic,
// named by the hex form of the derived topic identifier.
package fglibp2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/gordian-engine/gfg/fg/fgnetwork"
)

// topicNamePrefix namespaces the gadget's topics
// away from any other protocol sharing the same pubsub instance.
const topicNamePrefix = "gfg/v1/"

// Network implements [fgnetwork.Network] over libp2p gossipsub.
type Network struct {
	log *slog.Logger

	ctx context.Context

	ps *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*joinedTopic
}

type joinedTopic struct {
	t    *pubsub.Topic
	subs []*pubsub.Subscription
}

// New joins the given host to gossipsub and returns the adapter.
//
// The context bounds the lifetime of every subscription
// created through the returned Network.
func New(ctx context.Context, log *slog.Logger, h host.Host) (*Network, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}

	return &Network{
		log: log,

		ctx: ctx,

		ps: ps,

		topics: make(map[string]*joinedTopic),
	}, nil
}

func (n *Network) joined(topic fgnetwork.Topic) (*joinedTopic, error) {
	name := topicNamePrefix + topic.String()

	n.mu.Lock()
	defer n.mu.Unlock()

	if jt, ok := n.topics[name]; ok {
		return jt, nil
	}

	t, err := n.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("failed to join topic %s: %w", name, err)
	}

	jt := &joinedTopic{t: t}
	n.topics[name] = jt
	return jt, nil
}

func (n *Network) subscribe(topic fgnetwork.Topic) (<-chan []byte, error) {
	jt, err := n.joined(topic)
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	sub, err := jt.t.Subscribe()
	if err != nil {
		n.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", jt.t.String(), err)
	}
	jt.subs = append(jt.subs, sub)
	n.mu.Unlock()

	out := make(chan []byte, 64)
	go n.pump(sub, out)
	return out, nil
}

// pump forwards pubsub messages to out until the subscription ends,
// then closes out so the consumer observes stream termination.
func (n *Network) pump(sub *pubsub.Subscription, out chan<- []byte) {
	defer close(out)

	for {
		msg, err := sub.Next(n.ctx)
		if err != nil {
			// Cancelled subscription or closed context.
			return
		}

		select {
		case out <- msg.Data:
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Network) publish(topic fgnetwork.Topic, msg []byte) error {
	jt, err := n.joined(topic)
	if err != nil {
		return err
	}

	if err := jt.t.Publish(n.ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", jt.t.String(), err)
	}
	return nil
}

var _ fgnetwork.Network = (*Network)(nil)

func (n *Network) MessagesFor(round, setID uint64) (<-chan []byte, error) {
	return n.subscribe(fgnetwork.RoundTopic(round, setID))
}

func (n *Network) SendMessage(round, setID uint64, msg []byte) error {
	return n.publish(fgnetwork.RoundTopic(round, setID), msg)
}

func (n *Network) DropMessages(round, setID uint64) {
	n.dropTopic(fgnetwork.RoundTopic(round, setID))
}

func (n *Network) DropCommits(setID uint64) {
	n.dropTopic(fgnetwork.CommitTopic(setID))
}

func (n *Network) dropTopic(topic fgnetwork.Topic) {
	name := topicNamePrefix + topic.String()

	n.mu.Lock()
	jt, ok := n.topics[name]
	if ok {
		delete(n.topics, name)
	}
	n.mu.Unlock()

	if !ok {
		return
	}

	for _, sub := range jt.subs {
		sub.Cancel()
	}
	if err := jt.t.Close(); err != nil {
		n.log.Debug("Failed to close dropped topic", "topic", name, "err", err)
	}
}

func (n *Network) CommitMessagesFor(setID uint64) (<-chan []byte, error) {
	return n.subscribe(fgnetwork.CommitTopic(setID))
}

func (n *Network) SendCommit(setID uint64, msg []byte) error {
	return n.publish(fgnetwork.CommitTopic(setID), msg)
}
