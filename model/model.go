package model

// Envelope kinds that travel over the signaling connection.
const (
	KindSelfJoined  = "self-joined"
	KindPeerJoined  = "peer-joined"
	KindPeerLeft    = "peer-left"
	KindOffer       = "offer"
	KindAnswer      = "answer"
	KindRejectOffer = "reject-offer"
	KindPing        = "ping"
	KindPong        = "pong"
)

// Description types come directly from the WebRTC API.
const (
	DescriptionTypeOffer    = "offer"
	DescriptionTypeAnswer   = "answer"
	DescriptionTypePranswer = "pranswer"
	DescriptionTypeRollback = "rollback"
)

// Description is one side's proposed connection parameters.
// SDP is opaque, the relay never parses it.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp,omitempty"`
}

// Envelope is the unit of relay traffic. Concrete envelope types form a
// closed set; application-defined kinds surface as Generic.
type Envelope interface {
	EnvelopeKind() string
}

// Addressed is implemented by unicast envelopes. The relay routes on ToID
// only; FromID must match the sending connection's identity.
type Addressed interface {
	Envelope
	Route() (toID, fromID string)
}

// SelfJoined is sent once, to the newly joined connection only.
// PeerIDs is the room roster snapshot taken before the join.
type SelfJoined struct {
	Kind    string   `json:"kind"`
	ID      string   `json:"id"`
	PeerIDs []string `json:"peerIds"`
}

// PeerJoined is broadcast to a room when a new member joins,
// excluding the member itself.
type PeerJoined struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// PeerLeft is broadcast to the remaining members of a room.
type PeerLeft struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// Offer carries an initiator's local description to one peer.
type Offer struct {
	Kind        string      `json:"kind"`
	ToID        string      `json:"toId"`
	FromID      string      `json:"fromId"`
	Description Description `json:"description"`
}

// Answer carries a responder's local description back to the initiator.
type Answer struct {
	Kind        string      `json:"kind"`
	ToID        string      `json:"toId"`
	FromID      string      `json:"fromId"`
	Description Description `json:"description"`
}

// RejectOffer tells an initiator that the responder declined its offer.
type RejectOffer struct {
	Kind   string `json:"kind"`
	ToID   string `json:"toId"`
	FromID string `json:"fromId"`
}

// Ping is an application-level latency probe over the relay.
type Ping struct {
	Kind   string `json:"kind"`
	ToID   string `json:"toId"`
	FromID string `json:"fromId"`
}

// Pong answers a Ping.
type Pong struct {
	Kind   string `json:"kind"`
	ToID   string `json:"toId"`
	FromID string `json:"fromId"`
}

// Generic holds a schema-valid frame of a kind the relay does not need to
// understand. Raw is the verbatim frame and is forwarded untouched.
type Generic struct {
	Kind string
	Raw  []byte
}

func NewSelfJoined(id string, peerIDs []string) *SelfJoined {
	return &SelfJoined{Kind: KindSelfJoined, ID: id, PeerIDs: peerIDs}
}

func NewPeerJoined(id string) *PeerJoined {
	return &PeerJoined{Kind: KindPeerJoined, ID: id}
}

func NewPeerLeft(id string) *PeerLeft {
	return &PeerLeft{Kind: KindPeerLeft, ID: id}
}

func NewOffer(toID, fromID string, desc Description) *Offer {
	return &Offer{Kind: KindOffer, ToID: toID, FromID: fromID, Description: desc}
}

func NewAnswer(toID, fromID string, desc Description) *Answer {
	return &Answer{Kind: KindAnswer, ToID: toID, FromID: fromID, Description: desc}
}

func NewRejectOffer(toID, fromID string) *RejectOffer {
	return &RejectOffer{Kind: KindRejectOffer, ToID: toID, FromID: fromID}
}

func NewPing(toID, fromID string) *Ping {
	return &Ping{Kind: KindPing, ToID: toID, FromID: fromID}
}

func NewPong(toID, fromID string) *Pong {
	return &Pong{Kind: KindPong, ToID: toID, FromID: fromID}
}

func (e *SelfJoined) EnvelopeKind() string  { return KindSelfJoined }
func (e *PeerJoined) EnvelopeKind() string  { return KindPeerJoined }
func (e *PeerLeft) EnvelopeKind() string    { return KindPeerLeft }
func (e *Offer) EnvelopeKind() string       { return KindOffer }
func (e *Answer) EnvelopeKind() string      { return KindAnswer }
func (e *RejectOffer) EnvelopeKind() string { return KindRejectOffer }
func (e *Ping) EnvelopeKind() string        { return KindPing }
func (e *Pong) EnvelopeKind() string        { return KindPong }
func (e *Generic) EnvelopeKind() string     { return e.Kind }

func (e *Offer) Route() (string, string)       { return e.ToID, e.FromID }
func (e *Answer) Route() (string, string)      { return e.ToID, e.FromID }
func (e *RejectOffer) Route() (string, string) { return e.ToID, e.FromID }
func (e *Ping) Route() (string, string)        { return e.ToID, e.FromID }
func (e *Pong) Route() (string, string)        { return e.ToID, e.FromID }

// defaultWireBuffer bounds each connection's outbound queue. Writes are
// best-effort: a full queue drops the envelope instead of blocking the
// sender, so one dead peer cannot stall a room.
const defaultWireBuffer = 64

// Wire is a connection's outbound delivery channel.
type Wire struct {
	TX chan Envelope
}

func NewWire() Wire {
	return Wire{TX: make(chan Envelope, defaultWireBuffer)}
}
