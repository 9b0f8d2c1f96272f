package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/core/services"
	"meshlink/internal/infrastructure/monitoring"
	"meshlink/internal/protocol"
	"meshlink/pkg/utils"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// clientConn is one accepted websocket session. Gorilla connections do not
// allow concurrent writers, so every write goes through writeMu.
type clientConn struct {
	conn    *websocket.Conn
	userID  domain.UserID
	writeMu sync.Mutex
}

// WebSocketServer accepts signaling sessions, dispatches the event
// catalogue to the router and room services and implements ports.Sender
// for server-initiated delivery.
type WebSocketServer struct {
	router  ports.RouterService
	rooms   ports.RoomService
	auth    services.AuthService
	metrics *monitoring.SignalingMetrics

	connections map[domain.EndpointID]*clientConn
	mu          sync.RWMutex

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewWebSocketServer(
	router ports.RouterService,
	rooms ports.RoomService,
	auth services.AuthService,
	metrics *monitoring.SignalingMetrics,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	return &WebSocketServer{
		router:       router,
		rooms:        rooms,
		auth:         auth,
		metrics:      metrics,
		connections:  make(map[domain.EndpointID]*clientConn),
		pingInterval: 30 * time.Second,
		pongTimeout:  60 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for accepted connections
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

// SetPongTimeout sets pong timeout for accepted connections
func (s *WebSocketServer) SetPongTimeout(timeout time.Duration) {
	s.pongTimeout = timeout
	s.readTimeout = timeout
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(r.URL.Query().Get("userId"))
	password := r.URL.Query().Get("password")

	// Handshake validation happens before the upgrade completes its first
	// read. A failed check drops the connection with no protocol error so
	// credentials cannot be probed through error messages.
	if err := s.auth.CheckHandshake(userID, password); err != nil {
		s.logger.Warnw("handshake rejected", "user_id", userID, "error", err)
		if s.metrics != nil {
			s.metrics.HandshakeRejected()
		}
		conn, upgradeErr := upgrader.Upgrade(w, r, nil)
		if upgradeErr == nil {
			conn.Close()
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	endpointID := domain.EndpointID(utils.GenerateEndpointID())
	client := &clientConn{conn: conn, userID: userID}

	s.mu.Lock()
	s.connections[endpointID] = client
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}

	if err := s.router.Connect(context.Background(), userID, endpointID); err != nil {
		s.logger.Errorw("connect registration failed", "user_id", userID, "error", err)
		s.dropConnection(endpointID)
		return
	}

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan protocol.Envelope, 10)
	errorChan := make(chan error, 1)

	go func() {
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			messageChan <- env
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if err := s.handleMessage(context.Background(), client, env); err != nil {
				s.logger.Infow("error handling message", "user_id", userID, "event", env.Event, "error", err)
				s.sendAckError(client, env.AckID, err)
			}

		case <-pingTicker.C:
			client.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			client.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping", "user_id", userID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message", "user_id", userID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.dropConnection(endpointID)

	if err := s.router.HandleDisconnect(context.Background(), userID); err != nil {
		s.logger.Infow("error during disconnect teardown", "user_id", userID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
	s.logger.Infow("session closed", "user_id", userID, "endpoint_id", endpointID)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	if env.Event == "" {
		return fmt.Errorf("event is required")
	}
	if s.metrics != nil {
		s.metrics.MessageReceived(env.Event)
	}

	switch env.Event {
	case protocol.EventNewOffer:
		return s.handleNewOffer(ctx, client, env)
	case protocol.EventNewAnswer:
		return s.handleNewAnswer(ctx, client, env)
	case protocol.EventIceCandidate:
		return s.handleIceCandidate(ctx, client, env)
	case protocol.EventCancelOffers:
		return s.router.HandleCancelOffer(ctx, client.userID)
	case protocol.EventCreateRoom:
		return s.handleCreateRoom(ctx, client, env)
	case protocol.EventJoinRoom:
		return s.handleJoinRoom(ctx, client, env)
	case protocol.EventLeaveRoom:
		return s.handleLeaveRoom(ctx, client, env)
	case protocol.EventGetAvailableRooms:
		return s.handleGetAvailableRooms(ctx, client, env)
	default:
		return fmt.Errorf("unknown event: %s", env.Event)
	}
}

func (s *WebSocketServer) handleNewOffer(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	var payload protocol.NewOfferPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid newOffer payload: %w", err)
	}
	if payload.Description.SDP == "" {
		return fmt.Errorf("session description is required")
	}
	return s.router.HandleNewOffer(ctx, client.userID, payload.Description, payload.OfferRouting)
}

func (s *WebSocketServer) handleNewAnswer(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	var offer domain.Offer
	if err := json.Unmarshal(env.Payload, &offer); err != nil {
		return fmt.Errorf("invalid newAnswer payload: %w", err)
	}

	start := time.Now()
	buffered, err := s.router.HandleNewAnswer(ctx, client.userID, &offer)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.ObserveAnswerLatency(time.Since(start))
	}
	return s.sendAck(client, env.AckID, buffered)
}

func (s *WebSocketServer) handleIceCandidate(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	var msg domain.IceCandidateMessage
	if err := json.Unmarshal(env.Payload, &msg); err != nil {
		return fmt.Errorf("invalid candidate payload: %w", err)
	}
	if msg.Candidate.Candidate == "" {
		return fmt.Errorf("candidate is required")
	}
	// The sender identity comes from the session, never the payload.
	msg.SenderUserID = client.userID
	return s.router.HandleIceCandidate(ctx, msg)
}

func (s *WebSocketServer) handleCreateRoom(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	var req domain.CreateRoomRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid createRoom payload: %w", err)
	}
	req.CreatorUserID = client.userID

	room, err := s.rooms.CreateRoom(ctx, req)
	if err != nil {
		return err
	}
	return s.sendAck(client, env.AckID, protocol.RoomAck{Room: room})
}

func (s *WebSocketServer) handleJoinRoom(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	var req domain.JoinRoomRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid joinRoom payload: %w", err)
	}
	req.UserID = client.userID

	room, err := s.rooms.JoinRoom(ctx, req)
	if err != nil {
		return err
	}
	return s.sendAck(client, env.AckID, protocol.RoomAck{Room: room})
}

func (s *WebSocketServer) handleLeaveRoom(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	var req domain.LeaveRoomRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return fmt.Errorf("invalid leaveRoom payload: %w", err)
	}
	req.UserID = client.userID

	if err := s.rooms.LeaveRoom(ctx, req); err != nil {
		return err
	}
	return s.sendAck(client, env.AckID, protocol.RoomAck{})
}

func (s *WebSocketServer) handleGetAvailableRooms(ctx context.Context, client *clientConn, env protocol.Envelope) error {
	rooms, err := s.rooms.AvailableRooms(ctx)
	if err != nil {
		return err
	}
	return s.sendAck(client, env.AckID, rooms)
}

// Send implements ports.Sender: server-initiated event delivery to one
// endpoint.
func (s *WebSocketServer) Send(_ context.Context, endpoint domain.EndpointID, event string, payload interface{}) error {
	s.mu.RLock()
	client, ok := s.connections[endpoint]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("endpoint %s is not connected", endpoint)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	if s.metrics != nil {
		s.metrics.MessageSent(event)
	}
	return s.writeJSON(client, protocol.Envelope{Event: event, Payload: raw})
}

func (s *WebSocketServer) sendAck(client *clientConn, ackID string, payload interface{}) error {
	if ackID == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.writeJSON(client, protocol.Ack{AckID: ackID, Payload: raw})
}

func (s *WebSocketServer) sendAckError(client *clientConn, ackID string, cause error) {
	if ackID == "" {
		return
	}
	ack := protocol.Ack{AckID: ackID, Error: cause.Error(), Code: errorCode(cause)}
	if err := s.writeJSON(client, ack); err != nil {
		s.logger.Debugw("failed to send error ack", "user_id", client.userID, "error", err)
	}
}

func (s *WebSocketServer) writeJSON(client *clientConn, v interface{}) error {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()
	client.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return client.conn.WriteJSON(v)
}

func (s *WebSocketServer) dropConnection(endpointID domain.EndpointID) {
	s.mu.Lock()
	client, ok := s.connections[endpointID]
	delete(s.connections, endpointID)
	s.mu.Unlock()
	if ok {
		client.conn.Close()
	}
}

// ConnectedEndpoints returns the endpoints with a live websocket session.
func (s *WebSocketServer) ConnectedEndpoints() []domain.EndpointID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	endpoints := make([]domain.EndpointID, 0, len(s.connections))
	for id := range s.connections {
		endpoints = append(endpoints, id)
	}
	return endpoints
}

// HealthCheck reports liveness and the current session count.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	count := len(s.connections)
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "healthy",
		"connections": count,
	})
}
