package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/core/services"
	"meshlink/internal/infrastructure/repositories/memory"
	"meshlink/internal/protocol"
	"meshlink/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSharedPassword = "hunter2"

// deferredSender breaks the sender/services construction cycle the same
// way the composition root does.
type deferredSender struct {
	target ports.Sender
}

func (d *deferredSender) Send(ctx context.Context, endpoint domain.EndpointID, event string, payload interface{}) error {
	return d.target.Send(ctx, endpoint, event, payload)
}

// newTestServer wires real services over the in-memory repositories behind
// an httptest listener and returns the websocket URL.
func newTestServer(t *testing.T) string {
	t.Helper()

	// Session goroutines outlive individual assertions, so a nop logger
	// avoids writes after the test returns.
	log := logger.NewNop().Sugar()

	users := memory.NewMemoryUserDirectory()
	offers := memory.NewMemoryOfferTable()
	rooms := memory.NewMemoryRoomDirectory()

	sender := &deferredSender{}
	roomService := services.NewRoomService(rooms, users, sender, services.RoomServiceOptions{}, log)
	routerService := services.NewRouterService(users, offers, rooms, sender, roomService, log)
	authService := services.NewAuthService("test-jwt-secret", testSharedPassword, time.Minute)

	server := NewWebSocketServer(routerService, roomService, authService, nil, log)
	sender.target = server

	ts := httptest.NewServer(http.HandlerFunc(server.HandleWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialClient(t *testing.T, wsURL string, user domain.UserID) ports.ClientTransport {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport, err := Dial(ctx, DialOptions{
		ServerURL: wsURL,
		UserID:    user,
		Password:  testSharedPassword,
	}, logger.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { transport.Close() })
	return transport
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestWebSocket_RoomFlowAcrossRealSockets(t *testing.T) {
	wsURL := newTestServer(t)
	ctx := context.Background()

	alice := dialClient(t, wsURL, "alice")
	joined := make(chan protocol.RoomEventPayload, 1)
	alice.On(protocol.EventUserJoinedRoom, func(raw json.RawMessage) {
		var p protocol.RoomEventPayload
		assert.NoError(t, json.Unmarshal(raw, &p))
		joined <- p
	})

	var created protocol.RoomAck
	require.NoError(t, alice.EmitWithAck(ctx, protocol.EventCreateRoom, domain.CreateRoomRequest{Name: "demo"}, &created))
	require.NotNil(t, created.Room)
	assert.Equal(t, []domain.UserID{"alice"}, created.Room.Participants)

	bob := dialClient(t, wsURL, "bob")
	var joinedAck protocol.RoomAck
	require.NoError(t, bob.EmitWithAck(ctx, protocol.EventJoinRoom, domain.JoinRoomRequest{RoomID: created.Room.ID}, &joinedAck))
	require.NotNil(t, joinedAck.Room)
	assert.Equal(t, []domain.UserID{"alice", "bob"}, joinedAck.Room.Participants)

	notification := waitFor(t, joined, "userJoinedRoom")
	assert.Equal(t, domain.UserID("bob"), notification.UserID)
	assert.Equal(t, created.Room.ID, notification.RoomID)

	// Joining the same room twice is rejected through the error ack.
	err := bob.EmitWithAck(ctx, protocol.EventJoinRoom, domain.JoinRoomRequest{RoomID: created.Room.ID}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in room")
}

func TestWebSocket_HandlerIssuesAcknowledgedCall(t *testing.T) {
	wsURL := newTestServer(t)
	ctx := context.Background()

	// An event handler that makes an acknowledged call must not starve the
	// reader that delivers its own acknowledgement.
	alice := dialClient(t, wsURL, "alice")
	listed := make(chan []*domain.Room, 1)
	alice.On(protocol.EventUserJoinedRoom, func(json.RawMessage) {
		callCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		var rooms []*domain.Room
		assert.NoError(t, alice.EmitWithAck(callCtx, protocol.EventGetAvailableRooms, nil, &rooms))
		listed <- rooms
	})

	var created protocol.RoomAck
	require.NoError(t, alice.EmitWithAck(ctx, protocol.EventCreateRoom, domain.CreateRoomRequest{Name: "demo"}, &created))
	require.NotNil(t, created.Room)

	bob := dialClient(t, wsURL, "bob")
	require.NoError(t, bob.EmitWithAck(ctx, protocol.EventJoinRoom, domain.JoinRoomRequest{RoomID: created.Room.ID}, nil))

	rooms := waitFor(t, listed, "listing fetched from inside the join handler")
	require.Len(t, rooms, 1)
	assert.Equal(t, created.Room.ID, rooms[0].ID)
}

func TestWebSocket_OfferAnswerCandidateRelay(t *testing.T) {
	wsURL := newTestServer(t)
	ctx := context.Background()

	bob := dialClient(t, wsURL, "bob")
	offerCh := make(chan []*domain.Offer, 1)
	bob.On(protocol.EventNewOfferAwaiting, func(raw json.RawMessage) {
		var offers []*domain.Offer
		assert.NoError(t, json.Unmarshal(raw, &offers))
		offerCh <- offers
	})

	alice := dialClient(t, wsURL, "alice")
	answerCh := make(chan *domain.Offer, 1)
	alice.On(protocol.EventAnswerResponse, func(raw json.RawMessage) {
		var offer domain.Offer
		assert.NoError(t, json.Unmarshal(raw, &offer))
		answerCh <- &offer
	})
	candidateCh := make(chan domain.IceCandidateMessage, 1)
	alice.On(protocol.EventIceCandidateFromSrv, func(raw json.RawMessage) {
		var msg domain.IceCandidateMessage
		assert.NoError(t, json.Unmarshal(raw, &msg))
		candidateCh <- msg
	})

	require.NoError(t, alice.Emit(protocol.EventNewOffer, protocol.NewOfferPayload{
		Description:  domain.SessionDescription{Type: "offer", SDP: "sdp-alice"},
		OfferRouting: domain.OfferRouting{TargetUserID: "bob"},
	}))

	// Candidates sent before any answer exists are buffered server-side.
	for _, cand := range []string{"cand-1", "cand-2"} {
		require.NoError(t, alice.Emit(protocol.EventIceCandidate, domain.IceCandidateMessage{
			Candidate: domain.IceCandidate{Candidate: cand},
		}))
	}

	offers := waitFor(t, offerCh, "newOfferAwaiting")
	require.Len(t, offers, 1)
	require.Equal(t, domain.UserID("alice"), offers[0].OffererUserID)
	assert.Equal(t, "sdp-alice", offers[0].Description.SDP)

	answered := *offers[0]
	answered.Answer = &domain.SessionDescription{Type: "answer", SDP: "sdp-bob"}

	var buffered []domain.IceCandidate
	require.NoError(t, bob.EmitWithAck(ctx, protocol.EventNewAnswer, answered, &buffered))
	require.Len(t, buffered, 2)
	assert.Equal(t, "cand-1", buffered[0].Candidate)
	assert.Equal(t, "cand-2", buffered[1].Candidate)

	completed := waitFor(t, answerCh, "answerResponse")
	require.NotNil(t, completed.Answer)
	assert.Equal(t, "sdp-bob", completed.Answer.SDP)
	assert.Equal(t, domain.UserID("bob"), completed.AnswererUserID)

	// After the answer the table routes bob's candidates straight to alice.
	require.NoError(t, bob.Emit(protocol.EventIceCandidate, domain.IceCandidateMessage{
		Candidate: domain.IceCandidate{Candidate: "cand-bob"},
	}))
	relayed := waitFor(t, candidateCh, "relayed candidate")
	assert.Equal(t, domain.UserID("bob"), relayed.SenderUserID)
	assert.Equal(t, "cand-bob", relayed.Candidate.Candidate)
}

func TestWebSocket_HandshakeMismatchClosesSilently(t *testing.T) {
	wsURL := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?userId=mallory&password=wrong", nil)
	require.NoError(t, err, "upgrade itself succeeds so credentials cannot be probed")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err, "connection is dropped without any payload")
}

func TestWebSocket_MissingUserIDRejected(t *testing.T) {
	wsURL := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?password="+testSharedPassword, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}
