// Package p2p publishes committed market events to peers over libp2p gossipsub and
// delivers events gossiped by others.
package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/roundmarket/pkg/events"
)

const DefaultTopic = "roundmarket-events"

// Handler receives events published by other peers.
type Handler func(ctx context.Context, from peer.ID, ev events.Event)

type Gossip struct {
	h     host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	log   *zap.SugaredLogger

	muH     sync.RWMutex
	handler Handler

	cancel context.CancelFunc
	done   chan struct{}
}

type Config struct {
	ListenAddr string
	Bootstrap  []string
	Topic      string
	Logger     *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg Config) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		h.Close()
		return nil, err
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g := &Gossip{
		h: h, ps: ps, topic: topic, sub: sub, log: cfg.Logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go g.readLoop(runCtx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr, "topic", cfg.Topic)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// OnEvent installs the handler for events from other peers.
func (g *Gossip) OnEvent(fn Handler) { g.muH.Lock(); g.handler = fn; g.muH.Unlock() }

// Publish gossips ev. Failures are logged; gossip is best effort.
func (g *Gossip) Publish(ctx context.Context, ev events.Event) {
	data, err := encodeEvent(g.h.ID().String(), ev)
	if err != nil {
		g.log.Errorw("gossip_encode_failed", "seq", ev.Seq, "err", err)
		return
	}
	if err := g.topic.Publish(ctx, data); err != nil {
		g.log.Warnw("gossip_publish_failed", "seq", ev.Seq, "kind", ev.Kind, "err", err)
	}
}

// inbound

func (g *Gossip) readLoop(ctx context.Context) {
	defer close(g.done)
	self := g.h.ID()
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == self {
			continue
		}
		w, err := decodeEvent(msg.Data)
		if err != nil {
			g.log.Debugw("gossip_decode_failed", "from", msg.ReceivedFrom.String(), "err", err)
			continue
		}

		g.muH.RLock()
		h := g.handler
		g.muH.RUnlock()
		if h != nil {
			h(ctx, msg.ReceivedFrom, w.Event)
		}
	}
}

func (g *Gossip) Close() error {
	g.cancel()
	g.sub.Cancel()
	<-g.done
	if err := g.topic.Close(); err != nil {
		g.log.Warnw("gossip_topic_close_failed", "err", err)
	}
	return g.h.Close()
}

var _ events.Sink = (*Gossip)(nil)
