package client

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeEngine is a scriptable session engine. It records applied candidates
// in order and exposes the registered observables for the test to fire.
type fakeEngine struct {
	mu            sync.Mutex
	remoteSet     bool
	applied       []domain.IceCandidate
	localDesc     *domain.SessionDescription
	localTracks   []ports.MediaTrack
	closed        bool
	onIceCand     func(domain.IceCandidate)
	onTrack       func(ports.MediaTrack)
	onStateChange func(ports.EngineConnectionState)
}

func (e *fakeEngine) CreateOffer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "v=0 offer"}, nil
}

func (e *fakeEngine) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}, nil
}

func (e *fakeEngine) SetLocalDescription(_ context.Context, d domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localDesc = &d
	return nil
}

func (e *fakeEngine) SetRemoteDescription(_ context.Context, _ domain.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteSet = true
	return nil
}

func (e *fakeEngine) AddIceCandidate(_ context.Context, c domain.IceCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.applied = append(e.applied, c)
	return nil
}

func (e *fakeEngine) remoteApplied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteSet
}

func (e *fakeEngine) AddLocalTrack(t ports.MediaTrack) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localTracks = append(e.localTracks, t)
	return nil
}

func (e *fakeEngine) OnIceCandidate(fn func(domain.IceCandidate)) { e.onIceCand = fn }

func (e *fakeEngine) OnTrack(fn func(ports.MediaTrack)) { e.onTrack = fn }

func (e *fakeEngine) OnConnectionStateChange(fn func(ports.EngineConnectionState)) {
	e.onStateChange = fn
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) appliedCandidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.applied))
	for _, c := range e.applied {
		out = append(out, c.Candidate)
	}
	return out
}

// fakeFactory hands out engines in creation order.
type fakeFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
}

func (f *fakeFactory) NewEngine(context.Context) (ports.SessionEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{}
	f.engines = append(f.engines, e)
	return e, nil
}

func (f *fakeFactory) engine(i int) *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[i]
}

// fakeTrack is an inert media track.
type fakeTrack struct {
	id      string
	kind    string
	stopped bool
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop() error  { t.stopped = true; return nil }

// fakeMedia returns a one-track stream per acquisition, or a scripted
// failure.
type fakeMedia struct {
	fail bool
}

func (m *fakeMedia) GetUserMedia(_ context.Context, _ ports.MediaConstraints) (ports.MediaStream, error) {
	if m.fail {
		return nil, domain.ErrMediaAcquisition
	}
	s := newMediaSink("local")
	s.AddTrack(&fakeTrack{id: "cam", kind: "video"})
	return s, nil
}

// fakeTransport records emits and lets the test push server events.
type fakeTransport struct {
	mu       sync.Mutex
	emitted  []emittedEvent
	handlers map[string]func(json.RawMessage)
	onDrop   func()
	// ackResponder fabricates the acknowledgement payload per event.
	ackResponder func(event string, payload interface{}) interface{}
}

type emittedEvent struct {
	Event   string
	Payload interface{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]func(json.RawMessage))}
}

func (t *fakeTransport) Emit(event string, payload interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitted = append(t.emitted, emittedEvent{Event: event, Payload: payload})
	return nil
}

func (t *fakeTransport) EmitWithAck(_ context.Context, event string, payload interface{}, ackOut interface{}) error {
	t.mu.Lock()
	t.emitted = append(t.emitted, emittedEvent{Event: event, Payload: payload})
	responder := t.ackResponder
	t.mu.Unlock()

	if responder == nil || ackOut == nil {
		return nil
	}
	raw, err := json.Marshal(responder(event, payload))
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, ackOut)
}

func (t *fakeTransport) On(event string, handler func(json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = handler
}

func (t *fakeTransport) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDrop = handler
}

func (t *fakeTransport) Close() error { return nil }

// push delivers a server event through the registered handler.
func (t *fakeTransport) push(tb testing.TB, event string, payload interface{}) {
	tb.Helper()
	t.mu.Lock()
	handler := t.handlers[event]
	t.mu.Unlock()
	require.NotNil(tb, handler, "no handler registered for %s", event)
	raw, err := json.Marshal(payload)
	require.NoError(tb, err)
	handler(raw)
}

func (t *fakeTransport) emittedEvents(event string) []emittedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []emittedEvent
	for _, e := range t.emitted {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestClient(t *testing.T, opts Options) (*SignalingClient, *fakeTransport, *fakeFactory) {
	t.Helper()
	transport := newFakeTransport()
	factory := &fakeFactory{}
	c := NewSignalingClient(transport, factory, &fakeMedia{}, opts, zaptest.NewLogger(t).Sugar())
	return c, transport, factory
}

func TestInitiateLink_PublishesOfferAndReturnsSinks(t *testing.T) {
	c, transport, factory := newTestClient(t, Options{SelfID: "alice"})

	local, remote, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)
	require.NotNil(t, local)
	require.NotNil(t, remote)
	assert.Empty(t, remote.Tracks(), "remote sink starts empty and fills as tracks arrive")

	offers := transport.emittedEvents(protocol.EventNewOffer)
	require.Len(t, offers, 1)
	payload := offers[0].Payload.(protocol.NewOfferPayload)
	assert.Equal(t, domain.UserID("bob"), payload.TargetUserID)
	assert.Equal(t, "offer", payload.Description.Type)

	link := c.Link("bob")
	require.NotNil(t, link)
	assert.True(t, link.InitiatedLocally())
	assert.Equal(t, LinkStateAwaitingRemote, link.State())
	assert.Len(t, factory.engine(0).localTracks, 1)
}

func TestInitiateLink_DuplicateFails(t *testing.T) {
	c, _, _ := newTestClient(t, Options{SelfID: "alice"})
	ctx := context.Background()

	_, _, err := c.InitiateLink(ctx, "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	_, _, err = c.InitiateLink(ctx, "bob", ports.MediaConstraints{Video: true})
	assert.ErrorIs(t, err, domain.ErrDuplicateLink)
}

func TestInitiateLink_MediaAcquisitionFailure(t *testing.T) {
	transport := newFakeTransport()
	c := NewSignalingClient(transport, &fakeFactory{}, &fakeMedia{fail: true}, Options{SelfID: "alice"}, zaptest.NewLogger(t).Sugar())

	_, _, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	assert.ErrorIs(t, err, domain.ErrMediaAcquisition)
	assert.Nil(t, c.Link("bob"), "failed initiation leaves no registry entry")
}

func TestAcceptOffer_AppliesAckCandidatesBeforeQueued(t *testing.T) {
	c, transport, factory := newTestClient(t, Options{SelfID: "bob"})

	transport.ackResponder = func(event string, _ interface{}) interface{} {
		if event == protocol.EventNewAnswer {
			return []domain.IceCandidate{{Candidate: "buffered-1"}, {Candidate: "buffered-2"}}
		}
		return nil
	}

	offer := &domain.Offer{
		OffererUserID: "alice",
		Description:   domain.SessionDescription{Type: "offer", SDP: "v=0 offer"},
	}
	_, _, err := c.AcceptOffer(context.Background(), offer, ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	engine := factory.engine(0)
	assert.Equal(t, []string{"buffered-1", "buffered-2"}, engine.appliedCandidates())

	link := c.Link("alice")
	require.NotNil(t, link)
	assert.False(t, link.InitiatedLocally())
	assert.Equal(t, LinkStateAwaitingRemote, link.State())

	answers := transport.emittedEvents(protocol.EventNewAnswer)
	require.Len(t, answers, 1)
	sent := answers[0].Payload.(*domain.Offer)
	require.NotNil(t, sent.Answer)
	assert.Equal(t, domain.UserID("bob"), sent.AnswererUserID)
}

func TestAcceptOffer_LiveCandidateDuringAckWaits(t *testing.T) {
	c, transport, factory := newTestClient(t, Options{SelfID: "bob"})

	// A live-forwarded candidate races the answer acknowledgement. It must
	// queue behind the ack batch, not jump ahead of it.
	transport.ackResponder = func(event string, _ interface{}) interface{} {
		if event != protocol.EventNewAnswer {
			return nil
		}
		transport.push(t, protocol.EventIceCandidateFromSrv, domain.IceCandidateMessage{
			SenderUserID: "alice",
			Candidate:    domain.IceCandidate{Candidate: "live-during-ack"},
		})
		return []domain.IceCandidate{{Candidate: "buffered-1"}, {Candidate: "buffered-2"}}
	}

	offer := &domain.Offer{
		OffererUserID: "alice",
		Description:   domain.SessionDescription{Type: "offer", SDP: "v=0 offer"},
	}
	_, _, err := c.AcceptOffer(context.Background(), offer, ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"buffered-1", "buffered-2", "live-during-ack"},
		factory.engine(0).appliedCandidates(),
	)
}

func TestAcceptOffer_ConnectedDuringAckKeepsState(t *testing.T) {
	c, transport, factory := newTestClient(t, Options{SelfID: "bob"})

	// Connectivity can land while the answer acknowledgement is still in
	// flight; the link settles as connected instead of failing negotiation.
	transport.ackResponder = func(event string, _ interface{}) interface{} {
		if event == protocol.EventNewAnswer {
			factory.engine(0).onStateChange(ports.EngineStateConnected)
		}
		return nil
	}

	offer := &domain.Offer{
		OffererUserID: "alice",
		Description:   domain.SessionDescription{Type: "offer", SDP: "v=0 offer"},
	}
	_, _, err := c.AcceptOffer(context.Background(), offer, ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	link := c.Link("alice")
	require.NotNil(t, link)
	assert.Equal(t, LinkStateConnected, link.State())
	assert.True(t, link.Connected())
}

func TestReceiveIceCandidate_BuffersUntilAnswerApplied(t *testing.T) {
	c, _, factory := newTestClient(t, Options{SelfID: "alice"})
	ctx := context.Background()

	_, _, err := c.InitiateLink(ctx, "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)
	engine := factory.engine(0)

	// Candidates from bob arrive before the answer lands.
	for _, cand := range []string{"early-1", "early-2"} {
		c.ReceiveIceCandidate(ctx, domain.IceCandidateMessage{
			SenderUserID: "bob",
			Candidate:    domain.IceCandidate{Candidate: cand},
		})
	}
	assert.Empty(t, engine.appliedCandidates(), "early candidates buffer instead of applying")

	answer := domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}
	c.ReceiveAnswer(ctx, &domain.Offer{
		OffererUserID:  "alice",
		AnswererUserID: "bob",
		Answer:         &answer,
	})

	// Flush preserves receipt order; later candidates apply directly.
	c.ReceiveIceCandidate(ctx, domain.IceCandidateMessage{
		SenderUserID: "bob",
		Candidate:    domain.IceCandidate{Candidate: "live-3"},
	})
	assert.Equal(t, []string{"early-1", "early-2", "live-3"}, engine.appliedCandidates())
}

func TestReceiveIceCandidate_UnknownSenderDroppedByDefault(t *testing.T) {
	c, _, factory := newTestClient(t, Options{SelfID: "alice"})
	ctx := context.Background()

	_, _, err := c.InitiateLink(ctx, "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)
	answer := domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}
	c.ReceiveAnswer(ctx, &domain.Offer{OffererUserID: "alice", AnswererUserID: "bob", Answer: &answer})

	c.ReceiveIceCandidate(ctx, domain.IceCandidateMessage{
		SenderUserID: "stranger",
		Candidate:    domain.IceCandidate{Candidate: "mystery"},
	})
	assert.Empty(t, factory.engine(0).appliedCandidates())
}

func TestReceiveIceCandidate_LegacyFanOutOptIn(t *testing.T) {
	c, _, factory := newTestClient(t, Options{SelfID: "alice", LegacyFanOut: true})
	ctx := context.Background()

	_, _, err := c.InitiateLink(ctx, "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)
	_, _, err = c.InitiateLink(ctx, "carol", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	answer := domain.SessionDescription{Type: "answer", SDP: "v=0 answer"}
	c.ReceiveAnswer(ctx, &domain.Offer{OffererUserID: "alice", AnswererUserID: "bob", Answer: &answer})
	c.ReceiveAnswer(ctx, &domain.Offer{OffererUserID: "alice", AnswererUserID: "carol", Answer: &answer})

	c.ReceiveIceCandidate(ctx, domain.IceCandidateMessage{
		SenderUserID: "stranger",
		Candidate:    domain.IceCandidate{Candidate: "untargeted"},
	})

	assert.Equal(t, []string{"untargeted"}, factory.engine(0).appliedCandidates())
	assert.Equal(t, []string{"untargeted"}, factory.engine(1).appliedCandidates())
}

func TestConnectionState_DrivenByEngineObservable(t *testing.T) {
	c, _, factory := newTestClient(t, Options{SelfID: "alice"})

	_, _, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)
	link := c.Link("bob")
	engine := factory.engine(0)

	assert.False(t, link.Connected(), "message exchange alone never implies connectivity")

	engine.onStateChange(ports.EngineStateConnected)
	assert.True(t, link.Connected())

	var dropped []domain.UserID
	c.OnPeerDisconnected(func(id domain.UserID) { dropped = append(dropped, id) })
	engine.onStateChange(ports.EngineStateDisconnected)
	assert.Equal(t, LinkStateDisconnected, link.State())
	assert.Equal(t, []domain.UserID{"bob"}, dropped)
}

func TestEngineCandidates_SentWithTarget(t *testing.T) {
	c, transport, factory := newTestClient(t, Options{SelfID: "alice"})

	_, _, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	factory.engine(0).onIceCand(domain.IceCandidate{Candidate: "local-cand"})

	sent := transport.emittedEvents(protocol.EventIceCandidate)
	require.Len(t, sent, 1)
	msg := sent[0].Payload.(domain.IceCandidateMessage)
	assert.Equal(t, domain.UserID("alice"), msg.SenderUserID)
	assert.Equal(t, domain.UserID("bob"), msg.TargetUserID)
}

func TestRemoteTrack_PopulatesSinkAndNotifies(t *testing.T) {
	c, _, factory := newTestClient(t, Options{SelfID: "alice"})

	_, remote, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	var events []RemoteStreamEvent
	c.OnRemoteStream(func(ev RemoteStreamEvent) { events = append(events, ev) })

	factory.engine(0).onTrack(&fakeTrack{id: "remote-cam", kind: "video"})

	require.Len(t, events, 1)
	assert.Equal(t, domain.UserID("bob"), events[0].RemoteUserID)
	require.Len(t, remote.Tracks(), 1)
	assert.Equal(t, "remote-cam", remote.Tracks()[0].ID())
}

func TestCloseLink_IdempotentAndReleasesEngine(t *testing.T) {
	c, _, factory := newTestClient(t, Options{SelfID: "alice"})

	_, _, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	c.CloseLink("bob")
	assert.Nil(t, c.Link("bob"))
	assert.True(t, factory.engine(0).closed)

	// Closing again, or closing a link that never existed, is a no-op.
	c.CloseLink("bob")
	c.CloseLink("nobody")
}

func TestUserDisconnected_ClosesLink(t *testing.T) {
	c, transport, _ := newTestClient(t, Options{SelfID: "alice"})

	_, _, err := c.InitiateLink(context.Background(), "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	transport.push(t, protocol.EventUserDisconnected, map[string]string{"userId": "bob"})
	assert.Nil(t, c.Link("bob"))
}

func TestTransportDisconnect_ClosesAllLinks(t *testing.T) {
	c, transport, _ := newTestClient(t, Options{SelfID: "alice"})
	ctx := context.Background()

	_, _, err := c.InitiateLink(ctx, "bob", ports.MediaConstraints{Video: true})
	require.NoError(t, err)
	_, _, err = c.InitiateLink(ctx, "carol", ports.MediaConstraints{Video: true})
	require.NoError(t, err)

	var notified bool
	c.OnTransportDisconnect(func() { notified = true })

	transport.mu.Lock()
	onDrop := transport.onDrop
	transport.mu.Unlock()
	onDrop()

	assert.Nil(t, c.Link("bob"))
	assert.Nil(t, c.Link("carol"))
	assert.True(t, notified)
}

func TestOffersPush_ReachesSubscribers(t *testing.T) {
	c, transport, _ := newTestClient(t, Options{SelfID: "bob"})

	var received [][]*domain.Offer
	c.OnOffersReceived(func(offers []*domain.Offer) { received = append(received, offers) })

	transport.push(t, protocol.EventNewOfferAwaiting, []*domain.Offer{{OffererUserID: "alice"}})
	transport.push(t, protocol.EventAvailableOffers, []*domain.Offer{})

	require.Len(t, received, 1, "empty snapshots are not republished")
	assert.Equal(t, domain.UserID("alice"), received[0][0].OffererUserID)
}
