package client

import (
	"context"
	"fmt"
	"sync"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
)

// LinkState is one step of the per-link negotiation lifecycle.
type LinkState string

const (
	LinkStateCreated        LinkState = "created"
	LinkStateOffering       LinkState = "offering"
	LinkStateAnswering      LinkState = "answering"
	LinkStateAwaitingRemote LinkState = "awaiting_remote"
	LinkStateConnected      LinkState = "connected"
	LinkStateDisconnected   LinkState = "disconnected"
	LinkStateFailed         LinkState = "failed"
	LinkStateClosed         LinkState = "closed"
)

// validTransitions encodes the lifecycle:
// Created → Offering|Answering → AwaitingRemote → Connected →
// Disconnected|Failed → Closed. Closed is terminal. The engine may confirm
// connectivity while the answer acknowledgement is still in flight, so
// Connected is reachable straight from Offering and Answering; the
// observable fires each state once and must never be rejected.
var validTransitions = map[LinkState][]LinkState{
	LinkStateCreated:        {LinkStateOffering, LinkStateAnswering, LinkStateClosed},
	LinkStateOffering:       {LinkStateAwaitingRemote, LinkStateConnected, LinkStateFailed, LinkStateClosed},
	LinkStateAnswering:      {LinkStateAwaitingRemote, LinkStateConnected, LinkStateFailed, LinkStateClosed},
	LinkStateAwaitingRemote: {LinkStateConnected, LinkStateDisconnected, LinkStateFailed, LinkStateClosed},
	LinkStateConnected:      {LinkStateDisconnected, LinkStateFailed, LinkStateClosed},
	LinkStateDisconnected:   {LinkStateClosed, LinkStateConnected},
	LinkStateFailed:         {LinkStateClosed},
	LinkStateClosed:         {},
}

// PeerLink is one negotiated session with one remote party. The owning
// client drives it; the registry enforces at most one per remote user.
//
// initiatedLocally is fixed at creation and decides the candidate-routing
// role. It is never recomputed from ambient state.
type PeerLink struct {
	remoteUserID     domain.UserID
	engine           ports.SessionEngine
	initiatedLocally bool

	localStream  ports.MediaStream
	remoteStream *mediaSink
	queue        *IceCandidateQueue

	mu    sync.Mutex
	state LinkState
	// remoteReady flips once the remote description and any router-buffered
	// candidate batch have been applied; live candidates queue until then.
	remoteReady bool
}

func newPeerLink(remoteUserID domain.UserID, engine ports.SessionEngine, localStream ports.MediaStream, initiatedLocally bool) *PeerLink {
	return &PeerLink{
		remoteUserID:     remoteUserID,
		engine:           engine,
		initiatedLocally: initiatedLocally,
		localStream:      localStream,
		remoteStream:     newMediaSink(string(remoteUserID)),
		queue:            NewIceCandidateQueue(),
		state:            LinkStateCreated,
	}
}

// RemoteUserID identifies the link's remote party.
func (l *PeerLink) RemoteUserID() domain.UserID {
	return l.remoteUserID
}

// InitiatedLocally reports whether this side sent the offer.
func (l *PeerLink) InitiatedLocally() bool {
	return l.initiatedLocally
}

// RemoteStream is the sink populated asynchronously as tracks arrive.
func (l *PeerLink) RemoteStream() ports.MediaStream {
	return l.remoteStream
}

// State returns the current lifecycle state.
func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Connected reports whether the engine observable confirmed connectivity.
func (l *PeerLink) Connected() bool {
	return l.State() == LinkStateConnected
}

func (l *PeerLink) transition(to LinkState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, allowed := range validTransitions[l.state] {
		if allowed == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("invalid link transition %s -> %s for peer %s", l.state, to, l.remoteUserID)
}

// markAwaitingRemote moves a link out of its negotiating state once the
// offer or answer is on the wire. A link the engine has already advanced
// (or failed) keeps its state.
func (l *PeerLink) markAwaitingRemote() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkStateOffering || l.state == LinkStateAnswering {
		l.state = LinkStateAwaitingRemote
	}
}

// applyRemoteCandidate applies or buffers one candidate. Until the remote
// description and the router-buffered batch have both been applied, every
// live candidate stays queued; flushRemoteCandidates replays the queue in
// receipt order, so nothing jumps ahead of the buffered batch.
func (l *PeerLink) applyRemoteCandidate(ctx context.Context, c domain.IceCandidate) error {
	l.mu.Lock()
	if !l.remoteReady {
		l.queue.Push(c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.engine.AddIceCandidate(ctx, c)
}

// flushRemoteCandidates marks the remote side ready and drains the
// early-arrival buffer into the engine. Candidates arriving during the
// drain apply directly, strictly after the drained ones.
func (l *PeerLink) flushRemoteCandidates(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteReady = true
	for _, c := range l.queue.Drain() {
		if err := l.engine.AddIceCandidate(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// close releases the engine handle and stops media owned by this link.
// Safe to call more than once.
func (l *PeerLink) close() {
	l.mu.Lock()
	if l.state == LinkStateClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkStateClosed
	l.mu.Unlock()

	l.engine.Close()
	if l.localStream != nil {
		l.localStream.StopAll()
	}
	l.remoteStream.StopAll()
}
