// Package fgnetworktest provides an in-process implementation
// of [fgnetwork.Network] for tests:
// a hub routing messages between any number of peer handles,
// replaying each topic's history to late subscribers
// the same way a gossip layer re-propagates stored messages.
package fgnetworktest

import (
	"sync"

	"github.com/gordian-engine/gfg/fg/fgnetwork"
)

// subBuffer is the per-subscription channel capacity.
// A full subscription drops further deliveries,
// matching the best-effort contract.
const subBuffer = 1024

// Hub is the shared router connecting all peer handles in one test network.
type Hub struct {
	mu sync.Mutex

	topics map[fgnetwork.Topic]*topicState
}

type topicState struct {
	history [][]byte
	subs    map[*sub]struct{}
}

type sub struct {
	owner *Peer
	ch    chan []byte
}

// NewHub returns an empty hub with no peers.
func NewHub() *Hub {
	return &Hub{
		topics: make(map[fgnetwork.Topic]*topicState),
	}
}

// Join returns a new peer handle attached to the hub.
func (h *Hub) Join() *Peer {
	return &Peer{hub: h}
}

func (h *Hub) topic(t fgnetwork.Topic) *topicState {
	ts, ok := h.topics[t]
	if !ok {
		ts = &topicState{subs: make(map[*sub]struct{})}
		h.topics[t] = ts
	}
	return ts
}

func (h *Hub) subscribe(p *Peer, t fgnetwork.Topic) <-chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := h.topic(t)

	// Size the channel to hold the whole history plus live headroom,
	// so replay below can never block while holding the hub lock.
	s := &sub{
		owner: p,
		ch:    make(chan []byte, len(ts.history)+subBuffer),
	}

	// Late subscribers get the topic's full history first,
	// then live messages in arrival order.
	for _, msg := range ts.history {
		s.ch <- msg
	}

	ts.subs[s] = struct{}{}
	return s.ch
}

func (h *Hub) publish(t fgnetwork.Topic, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := h.topic(t)

	ts.history = append(ts.history, msg)
	for s := range ts.subs {
		select {
		case s.ch <- msg:
		default:
			// Slow subscriber; drop, as a lossy gossip layer would.
		}
	}
}

func (h *Hub) drop(p *Peer, t fgnetwork.Topic) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts, ok := h.topics[t]
	if !ok {
		return
	}

	for s := range ts.subs {
		if s.owner == p {
			delete(ts.subs, s)
			close(s.ch)
		}
	}
}

// Peer is one node's handle on the hub, implementing [fgnetwork.Network].
type Peer struct {
	hub *Hub
}

var _ fgnetwork.Network = (*Peer)(nil)

func (p *Peer) MessagesFor(round, setID uint64) (<-chan []byte, error) {
	return p.hub.subscribe(p, fgnetwork.RoundTopic(round, setID)), nil
}

func (p *Peer) SendMessage(round, setID uint64, msg []byte) error {
	p.hub.publish(fgnetwork.RoundTopic(round, setID), msg)
	return nil
}

func (p *Peer) DropMessages(round, setID uint64) {
	p.hub.drop(p, fgnetwork.RoundTopic(round, setID))
}

func (p *Peer) CommitMessagesFor(setID uint64) (<-chan []byte, error) {
	return p.hub.subscribe(p, fgnetwork.CommitTopic(setID)), nil
}

func (p *Peer) SendCommit(setID uint64, msg []byte) error {
	p.hub.publish(fgnetwork.CommitTopic(setID), msg)
	return nil
}

func (p *Peer) DropCommits(setID uint64) {
	p.hub.drop(p, fgnetwork.CommitTopic(setID))
}
