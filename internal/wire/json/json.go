// Package json implements the JSON/WebSocket framing of the wire protocol:
// one camelCase-tagged JSON object per text message, decoding into and
// encoding from the shared algebra in internal/wire.
package json

import (
	"encoding/json"
	"fmt"

	"github.com/adred-codev/worterbuch/internal/wire"
)

// envelope is the on-the-wire shape: exactly one variant field is set. This
// mirrors how the original implementation tags its JSON union and keeps
// decoding to a single struct instead of a two-pass "peek the tag" scheme.
type envelope struct {
	Get                    *getMsg           `json:"get,omitempty"`
	PGet                   *pGetMsg          `json:"pGet,omitempty"`
	Set                    *setMsg           `json:"set,omitempty"`
	Publish                *setMsg           `json:"publish,omitempty"`
	Subscribe              *subscribeMsg     `json:"subscribe,omitempty"`
	PSubscribe             *pSubscribeMsg    `json:"pSubscribe,omitempty"`
	Unsubscribe            *unsubscribeMsg   `json:"unsubscribe,omitempty"`
	Delete                 *deleteMsg        `json:"delete,omitempty"`
	PDelete                *pDeleteMsg       `json:"pDelete,omitempty"`
	Ls                     *lsMsg            `json:"ls,omitempty"`
	SubscribeLs            *subscribeLsMsg   `json:"subscribeLs,omitempty"`
	UnsubscribeLs          *unsubscribeMsg   `json:"unsubscribeLs,omitempty"`
	Keepalive              *struct{}         `json:"keepalive,omitempty"`
	AuthenticationRequest  *authRequestMsg   `json:"authenticationRequest,omitempty"`

	Welcome       *welcomeMsg       `json:"welcome,omitempty"`
	Authenticated *struct{}         `json:"authenticated,omitempty"`
	Ack           *ackMsg           `json:"ack,omitempty"`
	State         *stateMsg         `json:"state,omitempty"`
	PState        *pStateMsg        `json:"pState,omitempty"`
	LsState       *lsStateMsg       `json:"lsState,omitempty"`
	Err           *errMsg           `json:"err,omitempty"`
}

type getMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Key           string `json:"key"`
}

type pGetMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Pattern       string `json:"requestPattern"`
}

type setMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Key           string `json:"key"`
	Value         string `json:"value"`
}

type subscribeMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Key           string `json:"key"`
	Unique        bool   `json:"unique,omitempty"`
	LiveOnly      bool   `json:"liveOnly,omitempty"`
}

type pSubscribeMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Pattern       string `json:"requestPattern"`
	Unique        bool   `json:"unique,omitempty"`
	LiveOnly      bool   `json:"liveOnly,omitempty"`
	Aggregate     int64  `json:"aggregateEvents,omitempty"`
}

type deleteMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Key           string `json:"key"`
}

type pDeleteMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Pattern       string `json:"requestPattern"`
}

type lsMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Parent        string `json:"parent,omitempty"`
}

type subscribeLsMsg struct {
	TransactionID uint64 `json:"transactionId"`
	Parent        string `json:"parent,omitempty"`
}

type unsubscribeMsg struct {
	TransactionID  uint64 `json:"transactionId"`
	SubscriptionID uint64 `json:"subscriptionId"`
}

type authRequestMsg struct {
	TransactionID uint64         `json:"transactionId"`
	Token         string         `json:"token"`
	GraveGoods    []string       `json:"graveGoods,omitempty"`
	LastWill      []wire.KeyValue `json:"lastWill,omitempty"`
}

type welcomeMsg struct {
	ClientID               string `json:"clientId"`
	Version                string `json:"version"`
	AuthenticationRequired bool   `json:"authenticationRequired"`
	ProtocolVersion        string `json:"protocolVersion"`
}

type ackMsg struct {
	TransactionID uint64 `json:"transactionId"`
}

type stateMsg struct {
	TransactionID uint64         `json:"transactionId"`
	KeyValue      *wire.KeyValue  `json:"keyValue,omitempty"`
	Deleted       *string        `json:"deleted,omitempty"`
}

type pStateMsg struct {
	TransactionID uint64          `json:"transactionId"`
	Pattern       string          `json:"requestPattern"`
	KeyValuePairs []wire.KeyValue `json:"keyValuePairs,omitempty"`
	Deleted       []string        `json:"deleted,omitempty"`
}

type lsStateMsg struct {
	TransactionID uint64   `json:"transactionId"`
	Children      []string `json:"children"`
}

type errMsg struct {
	TransactionID uint64 `json:"transactionId"`
	ErrorCode     uint8  `json:"errorCode"`
	Metadata      string `json:"metadata,omitempty"`
}

// DecodeClient parses one client→server JSON text message.
func DecodeClient(data []byte) (wire.ClientMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("json: decode: %w", err)
	}
	switch {
	case env.Get != nil:
		return wire.Get{TID: wire.TransactionID(env.Get.TransactionID), Key: env.Get.Key}, nil
	case env.PGet != nil:
		return wire.PGet{TID: wire.TransactionID(env.PGet.TransactionID), Pattern: env.PGet.Pattern}, nil
	case env.Set != nil:
		return wire.Set{TID: wire.TransactionID(env.Set.TransactionID), Key: env.Set.Key, Value: env.Set.Value}, nil
	case env.Publish != nil:
		return wire.Publish{TID: wire.TransactionID(env.Publish.TransactionID), Key: env.Publish.Key, Value: env.Publish.Value}, nil
	case env.Subscribe != nil:
		return wire.Subscribe{
			TID:      wire.TransactionID(env.Subscribe.TransactionID),
			Key:      env.Subscribe.Key,
			Unique:   env.Subscribe.Unique,
			LiveOnly: env.Subscribe.LiveOnly,
		}, nil
	case env.PSubscribe != nil:
		return wire.PSubscribe{
			TID:       wire.TransactionID(env.PSubscribe.TransactionID),
			Pattern:   env.PSubscribe.Pattern,
			Unique:    env.PSubscribe.Unique,
			LiveOnly:  env.PSubscribe.LiveOnly,
			Aggregate: env.PSubscribe.Aggregate,
		}, nil
	case env.Unsubscribe != nil:
		return wire.Unsubscribe{TID: wire.TransactionID(env.Unsubscribe.TransactionID), SubscriptionID: env.Unsubscribe.SubscriptionID}, nil
	case env.Delete != nil:
		return wire.Delete{TID: wire.TransactionID(env.Delete.TransactionID), Key: env.Delete.Key}, nil
	case env.PDelete != nil:
		return wire.PDelete{TID: wire.TransactionID(env.PDelete.TransactionID), Pattern: env.PDelete.Pattern}, nil
	case env.Ls != nil:
		return wire.Ls{TID: wire.TransactionID(env.Ls.TransactionID), Parent: env.Ls.Parent}, nil
	case env.SubscribeLs != nil:
		return wire.SubscribeLs{TID: wire.TransactionID(env.SubscribeLs.TransactionID), Parent: env.SubscribeLs.Parent}, nil
	case env.UnsubscribeLs != nil:
		return wire.UnsubscribeLs{TID: wire.TransactionID(env.UnsubscribeLs.TransactionID), SubscriptionID: env.UnsubscribeLs.SubscriptionID}, nil
	case env.Keepalive != nil:
		return wire.Keepalive{}, nil
	case env.AuthenticationRequest != nil:
		return wire.AuthenticationRequest{
			TID:        wire.TransactionID(env.AuthenticationRequest.TransactionID),
			Token:      env.AuthenticationRequest.Token,
			GraveGoods: env.AuthenticationRequest.GraveGoods,
			LastWill:   env.AuthenticationRequest.LastWill,
		}, nil
	default:
		return nil, fmt.Errorf("json: unrecognized client message")
	}
}

// EncodeServer renders a server→client message as a single JSON document.
func EncodeServer(msg wire.ServerMessage) ([]byte, error) {
	var env envelope
	switch m := msg.(type) {
	case wire.Welcome:
		env.Welcome = &welcomeMsg{
			ClientID:               m.ClientID,
			Version:                m.Version,
			AuthenticationRequired: m.AuthenticationRequired,
			ProtocolVersion:        fmt.Sprintf("%d.%d", m.ProtocolVersion[0], m.ProtocolVersion[1]),
		}
	case wire.Authenticated:
		env.Authenticated = &struct{}{}
	case wire.Ack:
		env.Ack = &ackMsg{TransactionID: uint64(m.TID)}
	case wire.State:
		env.State = &stateMsg{TransactionID: uint64(m.TID), KeyValue: m.KeyValue, Deleted: m.Deleted}
	case wire.PState:
		env.PState = &pStateMsg{TransactionID: uint64(m.TID), Pattern: m.Pattern, KeyValuePairs: m.KeyValuePairs, Deleted: m.Deleted}
	case wire.LsState:
		env.LsState = &lsStateMsg{TransactionID: uint64(m.TID), Children: m.Children}
	case wire.Err:
		env.Err = &errMsg{TransactionID: uint64(m.TID), ErrorCode: m.Code, Metadata: m.Metadata}
	case wire.Keepalive:
		env.Keepalive = &struct{}{}
	default:
		return nil, fmt.Errorf("json: unsupported server message %T", msg)
	}
	return json.Marshal(env)
}
