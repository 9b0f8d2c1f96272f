package services

import (
	"context"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/ports"
	"meshlink/internal/protocol"

	"go.uber.org/zap"
)

type routerService struct {
	users  ports.UserDirectory
	offers ports.OfferTable
	rooms  ports.RoomDirectory
	sender ports.Sender

	// roomLifecycle runs the full leave procedure on disconnect so room
	// closure notifications fire even when the user never sent leaveRoom.
	roomLifecycle ports.RoomService

	logger *zap.SugaredLogger
}

// NewRouterService builds the signaling router over the given directories.
func NewRouterService(
	users ports.UserDirectory,
	offers ports.OfferTable,
	rooms ports.RoomDirectory,
	sender ports.Sender,
	roomLifecycle ports.RoomService,
	logger *zap.SugaredLogger,
) ports.RouterService {
	return &routerService{
		users:         users,
		offers:        offers,
		rooms:         rooms,
		sender:        sender,
		roomLifecycle: roomLifecycle,
		logger:        logger,
	}
}

func (s *routerService) Connect(ctx context.Context, userID domain.UserID, endpointID domain.EndpointID) error {
	// Upsert replaces a stale endpoint on reconnect.
	if err := s.users.Upsert(ctx, userID, endpointID); err != nil {
		return err
	}

	s.logger.Infow("user connected", "user_id", userID, "endpoint_id", endpointID)

	// Replay the open offers so a late joiner can answer offers that were
	// broadcast before it connected.
	open, err := s.offers.Open(ctx)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, endpointID, protocol.EventAvailableOffers, open); err != nil {
		s.logger.Warnw("failed to replay open offers", "user_id", userID, "error", err)
	}

	s.notifyOthers(ctx, userID, protocol.EventUserConnected, map[string]domain.UserID{"userId": userID})
	return nil
}

func (s *routerService) HandleNewOffer(ctx context.Context, sender domain.UserID, desc domain.SessionDescription, routing domain.OfferRouting) error {
	offer := &domain.Offer{
		OffererUserID:   sender,
		Description:     desc,
		OfferCandidates: []domain.IceCandidate{},
		Routing:         routing,
	}
	if err := s.offers.Put(ctx, offer); err != nil {
		return err
	}

	targets, err := s.resolveOfferTargets(ctx, sender, routing)
	if err != nil {
		return err
	}

	s.logger.Infow("offer recorded",
		"offerer", sender,
		"targets", len(targets),
		"target_user", routing.TargetUserID,
		"room_id", routing.RoomID,
	)

	for _, target := range targets {
		endpoint, err := s.users.Resolve(ctx, target)
		if err != nil {
			s.logger.Debugw("offer target not connected, dropped", "target", target, "offerer", sender)
			continue
		}
		if err := s.sender.Send(ctx, endpoint, protocol.EventNewOfferAwaiting, []*domain.Offer{offer}); err != nil {
			s.logger.Warnw("failed to deliver offer", "target", target, "error", err)
		}
	}
	return nil
}

// resolveOfferTargets applies the destination precedence: explicit target,
// room broadcast, explicit id list, then broadcast to everyone else.
func (s *routerService) resolveOfferTargets(ctx context.Context, sender domain.UserID, routing domain.OfferRouting) ([]domain.UserID, error) {
	switch {
	case routing.TargetUserID != "":
		return []domain.UserID{routing.TargetUserID}, nil

	case routing.RoomID != "":
		room, err := s.rooms.Get(ctx, routing.RoomID)
		if err != nil {
			return nil, err
		}
		return room.OtherParticipants(sender), nil

	case len(routing.UserIDs) > 0:
		targets := make([]domain.UserID, 0, len(routing.UserIDs))
		for _, id := range routing.UserIDs {
			if id != sender {
				targets = append(targets, id)
			}
		}
		return targets, nil

	default:
		users, err := s.users.ConnectedUsers(ctx)
		if err != nil {
			return nil, err
		}
		targets := make([]domain.UserID, 0, len(users))
		for _, id := range users {
			if id != sender {
				targets = append(targets, id)
			}
		}
		return targets, nil
	}
}

func (s *routerService) HandleNewAnswer(ctx context.Context, answerer domain.UserID, answer *domain.Offer) ([]domain.IceCandidate, error) {
	stored, err := s.offers.GetByOfferer(ctx, answer.OffererUserID)
	if err == domain.ErrOfferNotFound {
		// The offerer withdrew or disconnected between offer and answer.
		// The answerer gets an empty acknowledgement and no error; its
		// link will fail through engine connectivity, not signaling.
		s.logger.Warnw("answer for unknown offer dropped",
			"answerer", answerer,
			"offerer", answer.OffererUserID,
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if answer.Answer == nil {
		return nil, domain.ErrOfferNotFound
	}
	if err := s.offers.SetAnswer(ctx, stored.OffererUserID, answerer, *answer.Answer); err != nil {
		return nil, err
	}

	s.logger.Infow("offer answered", "offerer", stored.OffererUserID, "answerer", answerer)

	// Candidates the offerer buffered before the answer arrived ride back
	// on the acknowledgement so the answerer can apply them in order.
	buffered := append([]domain.IceCandidate(nil), stored.OfferCandidates...)

	completed, err := s.offers.GetByOfferer(ctx, stored.OffererUserID)
	if err != nil {
		return nil, err
	}
	endpoint, err := s.users.Resolve(ctx, stored.OffererUserID)
	if err != nil {
		s.logger.Warnw("offerer not connected for answer delivery", "offerer", stored.OffererUserID)
		return buffered, nil
	}
	if err := s.sender.Send(ctx, endpoint, protocol.EventAnswerResponse, completed); err != nil {
		s.logger.Warnw("failed to deliver answer", "offerer", stored.OffererUserID, "error", err)
	}
	return buffered, nil
}

func (s *routerService) HandleIceCandidate(ctx context.Context, msg domain.IceCandidateMessage) error {
	// Explicit target short-circuits the offer-table lookup: the candidate
	// is forwarded as-is with the sender identity attached.
	if msg.TargetUserID != "" {
		return s.forwardCandidate(ctx, msg.TargetUserID, msg)
	}

	// Room tier: a room-scoped candidate from a verified participant fans
	// out to every other participant.
	if msg.RoomID != "" {
		room, err := s.rooms.Get(ctx, msg.RoomID)
		if err != nil {
			s.logger.Debugw("candidate for unknown room dropped", "room_id", msg.RoomID, "sender", msg.SenderUserID)
			return nil
		}
		if !room.HasParticipant(msg.SenderUserID) {
			s.logger.Warnw("candidate from non-participant dropped", "room_id", msg.RoomID, "sender", msg.SenderUserID)
			return nil
		}
		for _, target := range room.OtherParticipants(msg.SenderUserID) {
			if err := s.forwardCandidate(ctx, target, msg); err != nil {
				s.logger.Warnw("room candidate delivery failed", "target", target, "error", err)
			}
		}
		return nil
	}

	// Offer-keyed routing: an offerer's candidates are buffered on the
	// offer (for the answer acknowledgement) and forwarded once an
	// answerer exists; an answerer's candidates go straight to the offerer.
	if offer, err := s.offers.GetByOfferer(ctx, msg.SenderUserID); err == nil {
		if err := s.offers.AppendOfferCandidate(ctx, msg.SenderUserID, msg.Candidate); err != nil {
			return err
		}
		if offer.Answered() {
			return s.forwardCandidate(ctx, offer.AnswererUserID, msg)
		}
		// Buffered only: the answerer will receive it through the ack.
		return nil
	}

	if offer, err := s.offers.GetByAnswerer(ctx, msg.SenderUserID); err == nil {
		if err := s.offers.AppendAnswerCandidate(ctx, offer.OffererUserID, msg.Candidate); err != nil {
			return err
		}
		return s.forwardCandidate(ctx, offer.OffererUserID, msg)
	}

	s.logger.Debugw("candidate with no matching offer dropped", "sender", msg.SenderUserID)
	return nil
}

func (s *routerService) forwardCandidate(ctx context.Context, target domain.UserID, msg domain.IceCandidateMessage) error {
	endpoint, err := s.users.Resolve(ctx, target)
	if err != nil {
		s.logger.Debugw("candidate target not connected, dropped", "target", target, "sender", msg.SenderUserID)
		return nil
	}
	return s.sender.Send(ctx, endpoint, protocol.EventIceCandidateFromSrv, msg)
}

func (s *routerService) HandleCancelOffer(ctx context.Context, sender domain.UserID) error {
	if err := s.offers.Delete(ctx, sender); err != nil && err != domain.ErrOfferNotFound {
		return err
	}

	s.logger.Infow("offer cancelled", "offerer", sender)

	// Refresh every connected client's open-offer view so the withdrawn
	// offer cannot be answered from a stale snapshot.
	open, err := s.offers.Open(ctx)
	if err != nil {
		return err
	}
	s.notifyOthers(ctx, sender, protocol.EventAvailableOffers, open)
	return nil
}

func (s *routerService) HandleDisconnect(ctx context.Context, userID domain.UserID) error {
	s.logger.Infow("user disconnected", "user_id", userID)

	if err := s.roomLifecycle.LeaveAll(ctx, userID); err != nil {
		s.logger.Warnw("room teardown on disconnect failed", "user_id", userID, "error", err)
	}

	if err := s.offers.Delete(ctx, userID); err != nil && err != domain.ErrOfferNotFound {
		s.logger.Warnw("offer cleanup on disconnect failed", "user_id", userID, "error", err)
	}

	if err := s.users.Remove(ctx, userID); err != nil && err != domain.ErrUserNotFound {
		return err
	}

	s.notifyOthers(ctx, userID, protocol.EventUserDisconnected, map[string]domain.UserID{"userId": userID})
	return nil
}

// notifyOthers fans an event out to every connected user except exclude.
func (s *routerService) notifyOthers(ctx context.Context, exclude domain.UserID, event string, payload interface{}) {
	users, err := s.users.ConnectedUsers(ctx)
	if err != nil {
		s.logger.Warnw("failed to list users for broadcast", "event", event, "error", err)
		return
	}
	for _, id := range users {
		if id == exclude {
			continue
		}
		endpoint, err := s.users.Resolve(ctx, id)
		if err != nil {
			continue
		}
		if err := s.sender.Send(ctx, endpoint, event, payload); err != nil {
			s.logger.Warnw("broadcast delivery failed", "event", event, "user_id", id, "error", err)
		}
	}
}
