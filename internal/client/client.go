// Package client implements the coordinator's client side: the per-peer
// negotiation state machine, the candidate-buffering protocol and the
// full-mesh room variant.
package client

import (
	"context"
	"encoding/json"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/protocol"
	"meshlink/pkg/eventbus"

	"go.uber.org/zap"
)

// RemoteStreamEvent reports a populated remote sink for one link.
type RemoteStreamEvent struct {
	RemoteUserID domain.UserID
	Stream       ports.MediaStream
}

// SignalingClient drives zero or more simultaneous peer links through
// negotiation over one transport session. All state is held per remote
// identifier; negotiation steps for one peer never touch another's link.
type SignalingClient struct {
	selfID    domain.UserID
	transport ports.ClientTransport
	engines   ports.EngineFactory
	media     ports.MediaSource
	registry  *PeerLinkRegistry

	// legacyFanOut applies untargeted candidates to every open link. It is
	// unsound with more than one concurrent link and stays off unless a
	// peer that predates sender-keyed routing requires it.
	legacyFanOut bool

	offers        *eventbus.Bus[[]*domain.Offer]
	remoteStreams *eventbus.Bus[RemoteStreamEvent]
	peerDropped   *eventbus.Bus[domain.UserID]
	errs          *eventbus.Bus[error]
	dropped       *eventbus.Bus[struct{}]

	logger *zap.SugaredLogger
}

// Options configure a SignalingClient.
type Options struct {
	SelfID domain.UserID
	// LegacyFanOut opts into applying untargeted candidates to every open
	// link instead of dropping them.
	LegacyFanOut bool
}

// NewSignalingClient builds a client over an established transport and
// registers the server-push handlers. The registry is owned by this client
// instance; nothing is shared between clients.
func NewSignalingClient(
	transport ports.ClientTransport,
	engines ports.EngineFactory,
	media ports.MediaSource,
	opts Options,
	logger *zap.SugaredLogger,
) *SignalingClient {
	c := &SignalingClient{
		selfID:        opts.SelfID,
		transport:     transport,
		engines:       engines,
		media:         media,
		registry:      NewPeerLinkRegistry(),
		legacyFanOut:  opts.LegacyFanOut,
		offers:        eventbus.New[[]*domain.Offer](logger),
		remoteStreams: eventbus.New[RemoteStreamEvent](logger),
		peerDropped:   eventbus.New[domain.UserID](logger),
		errs:          eventbus.New[error](logger),
		dropped:       eventbus.New[struct{}](logger),
		logger:        logger,
	}
	c.registerHandlers()
	return c
}

// OnOffersReceived subscribes to incoming offer batches (both live pushes
// and the connect-time snapshot). Returns the unsubscribe function.
func (c *SignalingClient) OnOffersReceived(fn func([]*domain.Offer)) func() {
	return c.offers.Subscribe(fn)
}

// OnRemoteStream subscribes to remote sink population events.
func (c *SignalingClient) OnRemoteStream(fn func(RemoteStreamEvent)) func() {
	return c.remoteStreams.Subscribe(fn)
}

// OnPeerDisconnected subscribes to per-link loss of connectivity.
func (c *SignalingClient) OnPeerDisconnected(fn func(domain.UserID)) func() {
	return c.peerDropped.Subscribe(fn)
}

// OnError subscribes to asynchronous client-local errors. Errors surface
// here, never as panics across callback boundaries.
func (c *SignalingClient) OnError(fn func(error)) func() {
	return c.errs.Subscribe(fn)
}

// OnTransportDisconnect subscribes to loss of the coordinator session.
func (c *SignalingClient) OnTransportDisconnect(fn func()) func() {
	return c.dropped.Subscribe(func(struct{}) { fn() })
}

// InitiateLink starts negotiation toward remoteUserID. It returns the local
// capture stream and the remote sink immediately; the sink populates
// asynchronously as tracks arrive.
func (c *SignalingClient) InitiateLink(ctx context.Context, remoteUserID domain.UserID, constraints ports.MediaConstraints) (ports.MediaStream, ports.MediaStream, error) {
	return c.initiateLink(ctx, remoteUserID, constraints, domain.OfferRouting{TargetUserID: remoteUserID})
}

func (c *SignalingClient) initiateLink(ctx context.Context, remoteUserID domain.UserID, constraints ports.MediaConstraints, routing domain.OfferRouting) (ports.MediaStream, ports.MediaStream, error) {
	if c.registry.Get(remoteUserID) != nil {
		return nil, nil, domain.ErrDuplicateLink
	}

	local, err := c.media.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, nil, domain.ErrMediaAcquisition
	}

	engine, err := c.engines.NewEngine(ctx)
	if err != nil {
		local.StopAll()
		return nil, nil, err
	}

	link := newPeerLink(remoteUserID, engine, local, true)
	if err := c.registry.Add(link); err != nil {
		engine.Close()
		local.StopAll()
		return nil, nil, err
	}

	c.attachEngine(link)
	for _, t := range local.Tracks() {
		if err := engine.AddLocalTrack(t); err != nil {
			c.teardownLink(link)
			return nil, nil, err
		}
	}

	if err := link.transition(LinkStateOffering); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	offer, err := engine.CreateOffer(ctx)
	if err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}
	if err := engine.SetLocalDescription(ctx, offer); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	if err := c.transport.Emit(protocol.EventNewOffer, protocol.NewOfferPayload{
		Description:  offer,
		OfferRouting: routing,
	}); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	link.markAwaitingRemote()

	c.logger.Infow("link initiated", "remote", remoteUserID)
	return local, link.RemoteStream(), nil
}

// AcceptOffer answers an incoming offer. The acknowledgement carries the
// candidates the router buffered for this offer; they apply to the new
// link in their original order, before any live-forwarded candidate.
func (c *SignalingClient) AcceptOffer(ctx context.Context, offer *domain.Offer, constraints ports.MediaConstraints) (ports.MediaStream, ports.MediaStream, error) {
	remoteUserID := offer.OffererUserID
	if c.registry.Get(remoteUserID) != nil {
		return nil, nil, domain.ErrDuplicateLink
	}

	local, err := c.media.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, nil, domain.ErrMediaAcquisition
	}

	engine, err := c.engines.NewEngine(ctx)
	if err != nil {
		local.StopAll()
		return nil, nil, err
	}

	link := newPeerLink(remoteUserID, engine, local, false)
	if err := c.registry.Add(link); err != nil {
		engine.Close()
		local.StopAll()
		return nil, nil, err
	}

	c.attachEngine(link)
	for _, t := range local.Tracks() {
		if err := engine.AddLocalTrack(t); err != nil {
			c.teardownLink(link)
			return nil, nil, err
		}
	}

	if err := link.transition(LinkStateAnswering); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	if err := engine.SetRemoteDescription(ctx, offer.Description); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	answer, err := engine.CreateAnswer(ctx)
	if err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}
	if err := engine.SetLocalDescription(ctx, answer); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	answered := *offer
	answered.Answer = &answer
	answered.AnswererUserID = c.selfID

	var buffered []domain.IceCandidate
	if err := c.transport.EmitWithAck(ctx, protocol.EventNewAnswer, &answered, &buffered); err != nil {
		c.teardownLink(link)
		return nil, nil, err
	}

	// Buffered candidates first, in the order the router received them,
	// then anything queued locally during the acknowledgement round trip.
	for _, cand := range buffered {
		if err := engine.AddIceCandidate(ctx, cand); err != nil {
			c.emitError(err)
		}
	}
	if err := link.flushRemoteCandidates(ctx); err != nil {
		c.emitError(err)
	}

	// The engine may have confirmed connectivity during the acknowledgement
	// round trip; only a link still answering moves to awaiting-remote.
	link.markAwaitingRemote()

	c.logger.Infow("offer accepted", "remote", remoteUserID, "buffered_candidates", len(buffered))
	return local, link.RemoteStream(), nil
}

// ReceiveAnswer applies a completed offer's answer to the matching link.
// A missing link is logged and ignored: the offer may have been cancelled
// locally after the answer was already in flight.
func (c *SignalingClient) ReceiveAnswer(ctx context.Context, offer *domain.Offer) {
	link := c.registry.Get(offer.AnswererUserID)
	if link == nil {
		link = c.registry.Get(offer.OffererUserID)
	}
	if link == nil || offer.Answer == nil {
		c.logger.Debugw("answer with no matching link ignored",
			"offerer", offer.OffererUserID,
			"answerer", offer.AnswererUserID,
		)
		return
	}

	if err := link.engine.SetRemoteDescription(ctx, *offer.Answer); err != nil {
		c.emitError(err)
		return
	}
	if err := link.flushRemoteCandidates(ctx); err != nil {
		c.emitError(err)
	}
}

// ReceiveIceCandidate routes one candidate to the link keyed by the sender.
// Early arrivals buffer in that link's queue and flush in receipt order
// right after the remote description lands.
func (c *SignalingClient) ReceiveIceCandidate(ctx context.Context, msg domain.IceCandidateMessage) {
	link := c.registry.Get(msg.SenderUserID)
	if link == nil {
		if c.legacyFanOut {
			for _, l := range c.registry.All() {
				if err := l.applyRemoteCandidate(ctx, msg.Candidate); err != nil {
					c.emitError(err)
				}
			}
			return
		}
		c.logger.Debugw("candidate with no matching link dropped", "sender", msg.SenderUserID)
		return
	}
	if err := link.applyRemoteCandidate(ctx, msg.Candidate); err != nil {
		c.emitError(err)
	}
}

// CloseLink tears down the link to remoteUserID. Closing an absent link is
// a no-op.
func (c *SignalingClient) CloseLink(remoteUserID domain.UserID) {
	link := c.registry.Remove(remoteUserID)
	if link == nil {
		return
	}
	link.close()
	c.logger.Infow("link closed", "remote", remoteUserID)
}

// CloseAll tears down every link.
func (c *SignalingClient) CloseAll() {
	for _, link := range c.registry.All() {
		c.CloseLink(link.RemoteUserID())
	}
}

// CancelOffers withdraws this client's open offer on the coordinator.
func (c *SignalingClient) CancelOffers() error {
	return c.transport.Emit(protocol.EventCancelOffers, nil)
}

// Link returns the active link for remoteUserID, or nil.
func (c *SignalingClient) Link(remoteUserID domain.UserID) *PeerLink {
	return c.registry.Get(remoteUserID)
}

// attachEngine wires the engine observables into the link state machine.
// Connected is entered only from the connectivity observable, never assumed
// from message exchange.
func (c *SignalingClient) attachEngine(link *PeerLink) {
	engine := link.engine
	remote := link.RemoteUserID()

	engine.OnIceCandidate(func(cand domain.IceCandidate) {
		msg := domain.IceCandidateMessage{
			SenderUserID: c.selfID,
			Candidate:    cand,
			TargetUserID: remote,
		}
		if err := c.transport.Emit(protocol.EventIceCandidate, msg); err != nil {
			c.emitError(err)
		}
	})

	engine.OnTrack(func(t ports.MediaTrack) {
		link.remoteStream.AddTrack(t)
		c.remoteStreams.Publish(RemoteStreamEvent{RemoteUserID: remote, Stream: link.remoteStream})
	})

	engine.OnConnectionStateChange(func(state ports.EngineConnectionState) {
		switch state {
		case ports.EngineStateConnected:
			if err := link.transition(LinkStateConnected); err != nil {
				c.logger.Debugw("connectivity signal on settled link", "remote", remote, "error", err)
			}
		case ports.EngineStateDisconnected:
			if link.transition(LinkStateDisconnected) == nil {
				c.peerDropped.Publish(remote)
			}
		case ports.EngineStateFailed:
			if link.transition(LinkStateFailed) == nil {
				c.peerDropped.Publish(remote)
			}
		case ports.EngineStateClosed:
			link.transition(LinkStateClosed)
		}
	})
}

func (c *SignalingClient) teardownLink(link *PeerLink) {
	c.registry.Remove(link.RemoteUserID())
	link.close()
}

func (c *SignalingClient) registerHandlers() {
	ctx := context.Background()

	c.transport.On(protocol.EventNewOfferAwaiting, func(payload json.RawMessage) {
		var offers []*domain.Offer
		if err := json.Unmarshal(payload, &offers); err != nil {
			c.emitError(err)
			return
		}
		c.offers.Publish(offers)
	})

	c.transport.On(protocol.EventAvailableOffers, func(payload json.RawMessage) {
		var offers []*domain.Offer
		if err := json.Unmarshal(payload, &offers); err != nil {
			c.emitError(err)
			return
		}
		if len(offers) > 0 {
			c.offers.Publish(offers)
		}
	})

	c.transport.On(protocol.EventAnswerResponse, func(payload json.RawMessage) {
		var offer domain.Offer
		if err := json.Unmarshal(payload, &offer); err != nil {
			c.emitError(err)
			return
		}
		c.ReceiveAnswer(ctx, &offer)
	})

	c.transport.On(protocol.EventIceCandidateFromSrv, func(payload json.RawMessage) {
		var msg domain.IceCandidateMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.emitError(err)
			return
		}
		c.ReceiveIceCandidate(ctx, msg)
	})

	c.transport.On(protocol.EventUserDisconnected, func(payload json.RawMessage) {
		var body struct {
			UserID domain.UserID `json:"userId"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			c.emitError(err)
			return
		}
		c.CloseLink(body.UserID)
		c.peerDropped.Publish(body.UserID)
	})

	c.transport.OnDisconnect(func() {
		// A dropped coordinator session invalidates all in-flight
		// negotiation; a reconnect is a fresh registration.
		c.CloseAll()
		c.dropped.Publish(struct{}{})
	})
}

func (c *SignalingClient) emitError(err error) {
	c.logger.Warnw("client error", "error", err)
	c.errs.Publish(err)
}
