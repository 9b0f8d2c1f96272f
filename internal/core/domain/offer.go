package domain

// SessionDescription is the opaque negotiation payload produced by the
// session engine. Compatibility is at the field level, matching the
// engine's offer/answer description shape.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// IceCandidate is a potential network path descriptor. The coordinator
// relays candidates verbatim; only the engine interprets them.
type IceCandidate struct {
	Candidate        string `json:"candidate"`
	SDPMid           string `json:"sdpMid,omitempty"`
	SDPMLineIndex    uint16 `json:"sdpMLineIndex"`
	UsernameFragment string `json:"usernameFragment,omitempty"`
}

// OfferRouting selects the destination set for a new offer. Exactly one of
// the fields is normally set; an empty routing falls back to the legacy
// broadcast-to-everyone behavior.
type OfferRouting struct {
	TargetUserID UserID   `json:"targetUserId,omitempty"`
	RoomID       RoomID   `json:"roomId,omitempty"`
	UserIDs      []UserID `json:"userIds,omitempty"`
}

// Offer is one in-flight offer/answer exchange. The server keeps at most
// one open offer per offerer; a new offer from the same user replaces the
// previous one.
type Offer struct {
	OffererUserID       UserID              `json:"offererUserId"`
	Description         SessionDescription  `json:"sessionDescription"`
	OfferCandidates     []IceCandidate      `json:"offerCandidates"`
	AnswererUserID      UserID              `json:"answererUserId,omitempty"`
	Answer              *SessionDescription `json:"answer"`
	AnswererCandidates  []IceCandidate      `json:"answererCandidates"`
	Routing             OfferRouting        `json:"routing,omitempty"`
}

// Answered reports whether exactly one answer has been accepted. Once set,
// the answer is immutable.
func (o *Offer) Answered() bool {
	return o.Answer != nil
}

// IceCandidateMessage carries a candidate through the coordinator. Delivery
// is at-most-once per receipt, but duplicates and reordering from the
// network must be tolerated by the receiver (idempotent application).
type IceCandidateMessage struct {
	SenderUserID UserID       `json:"senderUserId"`
	Candidate    IceCandidate `json:"iceCandidate"`
	TargetUserID UserID       `json:"targetUserId,omitempty"`
	RoomID       RoomID       `json:"roomId,omitempty"`
}
