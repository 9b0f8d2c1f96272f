package services

import (
	"context"
	"sync"
	"testing"

	"meshlink/internal/core/domain"
	"meshlink/internal/infrastructure/repositories/memory"
	"meshlink/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingSender captures every Send call for assertions.
type recordingSender struct {
	mu    sync.Mutex
	calls []sentEvent
}

type sentEvent struct {
	Endpoint domain.EndpointID
	Event    string
	Payload  interface{}
}

func (r *recordingSender) Send(_ context.Context, endpoint domain.EndpointID, event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sentEvent{Endpoint: endpoint, Event: event, Payload: payload})
	return nil
}

func (r *recordingSender) eventsFor(endpoint domain.EndpointID, event string) []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentEvent
	for _, c := range r.calls {
		if c.Endpoint == endpoint && c.Event == event {
			out = append(out, c)
		}
	}
	return out
}

func newTestRouter(t *testing.T) (*routerService, *recordingSender) {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	users := memory.NewMemoryUserDirectory()
	offers := memory.NewMemoryOfferTable()
	rooms := memory.NewMemoryRoomDirectory()
	sender := &recordingSender{}
	roomSvc := NewRoomService(rooms, users, sender, RoomServiceOptions{}, logger)
	router := NewRouterService(users, offers, rooms, sender, roomSvc, logger).(*routerService)
	return router, sender
}

func connect(t *testing.T, r *routerService, userID domain.UserID) domain.EndpointID {
	t.Helper()
	endpoint := domain.EndpointID("ep-" + string(userID))
	require.NoError(t, r.Connect(context.Background(), userID, endpoint))
	return endpoint
}

func TestRouterService_ConnectReplaysOpenOffers(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()

	connect(t, router, "alice")
	require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "v=0 a"}, domain.OfferRouting{}))

	bobEndpoint := connect(t, router, "bob")

	replays := sender.eventsFor(bobEndpoint, protocol.EventAvailableOffers)
	require.Len(t, replays, 1)
	open := replays[0].Payload.([]*domain.Offer)
	require.Len(t, open, 1)
	assert.Equal(t, domain.UserID("alice"), open[0].OffererUserID)
}

func TestRouterService_OfferTargetPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		routing domain.OfferRouting
		want    map[domain.UserID]bool
	}{
		{
			name:    "explicit target wins over list",
			routing: domain.OfferRouting{TargetUserID: "bob", UserIDs: []domain.UserID{"carol"}},
			want:    map[domain.UserID]bool{"bob": true},
		},
		{
			name:    "id list",
			routing: domain.OfferRouting{UserIDs: []domain.UserID{"carol", "alice"}},
			want:    map[domain.UserID]bool{"carol": true},
		},
		{
			name:    "empty routing broadcasts to everyone else",
			routing: domain.OfferRouting{},
			want:    map[domain.UserID]bool{"bob": true, "carol": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sender := newTestRouter(t)
			ctx := context.Background()
			connect(t, router, "alice")
			connect(t, router, "bob")
			connect(t, router, "carol")

			require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "x"}, tt.routing))

			for _, user := range []domain.UserID{"alice", "bob", "carol"} {
				delivered := sender.eventsFor(domain.EndpointID("ep-"+string(user)), protocol.EventNewOfferAwaiting)
				if tt.want[user] {
					assert.NotEmpty(t, delivered, "user %s should receive the offer", user)
				} else {
					assert.Empty(t, delivered, "user %s should not receive the offer", user)
				}
			}
		})
	}
}

func TestRouterService_OfferToRoomBroadcastsToParticipants(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()
	connect(t, router, "alice")
	connect(t, router, "bob")
	connect(t, router, "carol")

	room, err := router.roomLifecycle.CreateRoom(ctx, domain.CreateRoomRequest{Name: "standup", CreatorUserID: "alice"})
	require.NoError(t, err)
	_, err = router.roomLifecycle.JoinRoom(ctx, domain.JoinRoomRequest{RoomID: room.ID, UserID: "bob"})
	require.NoError(t, err)

	require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "x"}, domain.OfferRouting{RoomID: room.ID}))

	assert.NotEmpty(t, sender.eventsFor("ep-bob", protocol.EventNewOfferAwaiting))
	assert.Empty(t, sender.eventsFor("ep-carol", protocol.EventNewOfferAwaiting), "non-participant must not receive room-scoped offer")
}

func TestRouterService_AnswerReturnsBufferedOffererCandidates(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()
	connect(t, router, "alice")
	connect(t, router, "bob")

	require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "x"}, domain.OfferRouting{TargetUserID: "bob"}))

	// Offerer candidates generated before any answer must buffer, not route.
	for _, c := range []string{"cand-1", "cand-2", "cand-3"} {
		require.NoError(t, router.HandleIceCandidate(ctx, domain.IceCandidateMessage{
			SenderUserID: "alice",
			Candidate:    domain.IceCandidate{Candidate: c},
		}))
	}
	assert.Empty(t, sender.eventsFor("ep-bob", protocol.EventIceCandidateFromSrv))

	answer := &domain.Offer{
		OffererUserID: "alice",
		Answer:        &domain.SessionDescription{Type: "answer", SDP: "y"},
	}
	buffered, err := router.HandleNewAnswer(ctx, "bob", answer)
	require.NoError(t, err)

	// The buffered candidates come back in generation order.
	require.Len(t, buffered, 3)
	assert.Equal(t, "cand-1", buffered[0].Candidate)
	assert.Equal(t, "cand-2", buffered[1].Candidate)
	assert.Equal(t, "cand-3", buffered[2].Candidate)

	// The offerer receives the completed offer.
	responses := sender.eventsFor("ep-alice", protocol.EventAnswerResponse)
	require.Len(t, responses, 1)
	completed := responses[0].Payload.(*domain.Offer)
	require.NotNil(t, completed.Answer)
	assert.Equal(t, domain.UserID("bob"), completed.AnswererUserID)
}

func TestRouterService_AnswerForUnknownOffererAcksEmpty(t *testing.T) {
	router, _ := newTestRouter(t)
	connect(t, router, "bob")

	buffered, err := router.HandleNewAnswer(context.Background(), "bob", &domain.Offer{
		OffererUserID: "ghost",
		Answer:        &domain.SessionDescription{Type: "answer", SDP: "y"},
	})
	require.NoError(t, err)
	assert.Nil(t, buffered)
}

func TestRouterService_CandidateRoutingAfterAnswer(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()
	connect(t, router, "alice")
	connect(t, router, "bob")

	require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "x"}, domain.OfferRouting{TargetUserID: "bob"}))
	_, err := router.HandleNewAnswer(ctx, "bob", &domain.Offer{
		OffererUserID: "alice",
		Answer:        &domain.SessionDescription{Type: "answer", SDP: "y"},
	})
	require.NoError(t, err)

	// Answerer candidates route to the offerer.
	require.NoError(t, router.HandleIceCandidate(ctx, domain.IceCandidateMessage{
		SenderUserID: "bob",
		Candidate:    domain.IceCandidate{Candidate: "bob-cand"},
	}))
	toAlice := sender.eventsFor("ep-alice", protocol.EventIceCandidateFromSrv)
	require.Len(t, toAlice, 1)
	assert.Equal(t, domain.UserID("bob"), toAlice[0].Payload.(domain.IceCandidateMessage).SenderUserID)

	// Post-answer offerer candidates route live to the answerer.
	require.NoError(t, router.HandleIceCandidate(ctx, domain.IceCandidateMessage{
		SenderUserID: "alice",
		Candidate:    domain.IceCandidate{Candidate: "alice-late"},
	}))
	toBob := sender.eventsFor("ep-bob", protocol.EventIceCandidateFromSrv)
	require.Len(t, toBob, 1)
	assert.Equal(t, "alice-late", toBob[0].Payload.(domain.IceCandidateMessage).Candidate.Candidate)
}

func TestRouterService_ExplicitTargetCandidateBypassesOfferTable(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()
	connect(t, router, "alice")
	connect(t, router, "bob")

	require.NoError(t, router.HandleIceCandidate(ctx, domain.IceCandidateMessage{
		SenderUserID: "alice",
		TargetUserID: "bob",
		Candidate:    domain.IceCandidate{Candidate: "direct"},
	}))

	toBob := sender.eventsFor("ep-bob", protocol.EventIceCandidateFromSrv)
	require.Len(t, toBob, 1)
}

func TestRouterService_CancelOfferRefreshesListings(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()
	connect(t, router, "alice")
	connect(t, router, "bob")

	require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "x"}, domain.OfferRouting{}))
	require.NoError(t, router.HandleCancelOffer(ctx, "alice"))

	refreshes := sender.eventsFor("ep-bob", protocol.EventAvailableOffers)
	require.NotEmpty(t, refreshes)
	last := refreshes[len(refreshes)-1].Payload.([]*domain.Offer)
	assert.Empty(t, last, "withdrawn offer must drop out of the open set")
}

func TestRouterService_DisconnectTearsDownState(t *testing.T) {
	router, sender := newTestRouter(t)
	ctx := context.Background()
	connect(t, router, "alice")
	connect(t, router, "bob")

	room, err := router.roomLifecycle.CreateRoom(ctx, domain.CreateRoomRequest{Name: "huddle", CreatorUserID: "alice"})
	require.NoError(t, err)
	_, err = router.roomLifecycle.JoinRoom(ctx, domain.JoinRoomRequest{RoomID: room.ID, UserID: "bob"})
	require.NoError(t, err)

	require.NoError(t, router.HandleNewOffer(ctx, "alice", domain.SessionDescription{Type: "offer", SDP: "x"}, domain.OfferRouting{}))
	require.NoError(t, router.HandleDisconnect(ctx, "alice"))

	// The host's exit closes the room for everyone left in it.
	closed := sender.eventsFor("ep-bob", protocol.EventRoomClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, domain.RoomCloseReasonHostLeft, closed[0].Payload.(protocol.RoomEventPayload).Reason)

	// The departed user's open offer is gone.
	open, err := router.offers.Open(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	// Remaining users learn about the departure.
	assert.NotEmpty(t, sender.eventsFor("ep-bob", protocol.EventUserDisconnected))
}
