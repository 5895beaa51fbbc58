// Package wire defines the shared message algebra (C9) that both the
// binary framing (internal/wire/binary) and the JSON framing
// (internal/wire/json) encode and decode. Session handlers (C6) operate on
// these types only; they never see the wire bytes directly.
package wire

// TransactionID correlates a client request with its server reply.
type TransactionID uint64

// ClientMessage is implemented by every client→server frame.
type ClientMessage interface{ clientMessage() }

// ServerMessage is implemented by every server→client frame.
type ServerMessage interface{ serverMessage() }

type Get struct {
	TID TransactionID
	Key string
}

type Set struct {
	TID   TransactionID
	Key   string
	Value string
}

type Publish struct {
	TID   TransactionID
	Key   string
	Value string
}

type Subscribe struct {
	TID      TransactionID
	Key      string
	Unique   bool
	LiveOnly bool
}

type PGet struct {
	TID     TransactionID
	Pattern string
}

type PSubscribe struct {
	TID      TransactionID
	Pattern  string
	Unique   bool
	LiveOnly bool
	// Aggregate is the coalescing window in milliseconds; zero disables C7.
	Aggregate int64
}

type Delete struct {
	TID TransactionID
	Key string
}

type PDelete struct {
	TID     TransactionID
	Pattern string
}

type Ls struct {
	TID    TransactionID
	Parent string
}

type SubscribeLs struct {
	TID    TransactionID
	Parent string
}

type Unsubscribe struct {
	TID            TransactionID
	SubscriptionID uint64
}

type UnsubscribeLs struct {
	TID            TransactionID
	SubscriptionID uint64
}

type Export struct {
	TID  TransactionID
	Path string
}

type Import struct {
	TID  TransactionID
	Path string
}

type Keepalive struct{}

type AuthenticationRequest struct {
	TID        TransactionID
	Token      string
	GraveGoods []string
	LastWill   []KeyValue
}

func (Get) clientMessage()                   {}
func (Set) clientMessage()                   {}
func (Publish) clientMessage()               {}
func (Subscribe) clientMessage()             {}
func (PGet) clientMessage()                  {}
func (PSubscribe) clientMessage()            {}
func (Delete) clientMessage()                {}
func (PDelete) clientMessage()               {}
func (Ls) clientMessage()                    {}
func (SubscribeLs) clientMessage()           {}
func (Unsubscribe) clientMessage()           {}
func (UnsubscribeLs) clientMessage()         {}
func (Export) clientMessage()                {}
func (Import) clientMessage()                {}
func (Keepalive) clientMessage()             {}
func (AuthenticationRequest) clientMessage() {}

// KeyValue is the wire representation of one stored pair.
type KeyValue struct {
	Key   string
	Value string
}

type Welcome struct {
	ClientID              string
	Version               string
	AuthenticationRequired bool
	ProtocolVersion       [2]uint16
}

type Authenticated struct{}

type Ack struct{ TID TransactionID }

type State struct {
	TID      TransactionID
	KeyValue *KeyValue
	Deleted  *string
}

type PState struct {
	TID           TransactionID
	Pattern       string
	KeyValuePairs []KeyValue
	Deleted       []string
}

type LsState struct {
	TID      TransactionID
	Children []string
}

type Err struct {
	TID      TransactionID
	Code     uint8
	Metadata string
}

type Handshake struct {
	SupportedVersions [][2]uint16
	Separator         byte
	Wildcard          byte
	MultiWildcard     byte
}

func (Welcome) serverMessage()       {}
func (Authenticated) serverMessage() {}
func (Ack) serverMessage()           {}
func (State) serverMessage()         {}
func (PState) serverMessage()        {}
func (LsState) serverMessage()       {}
func (Err) serverMessage()           {}
func (Handshake) serverMessage()     {}
func (Keepalive) serverMessage()     {}
