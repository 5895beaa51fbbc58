// Package wberr defines the wire error taxonomy (spec §6/§7) and the
// WorterbuchError type used to carry it across the actor/session boundary.
package wberr

import "fmt"

// Code is the wire error code, matching the Err frame's error_code byte.
type Code uint8

const (
	IllegalWildcard              Code = 0x00
	IllegalMultiWildcard         Code = 0x01
	MultiWildcardAtIllegalPosition Code = 0x02
	IoError                      Code = 0x03
	SerdeError                   Code = 0x04
	NoSuchValue                  Code = 0x05
	NotSubscribed                Code = 0x06
	ProtocolNegotiationFailed    Code = 0x07
	InvalidServerResponse        Code = 0x08
	ReadOnlyKey                  Code = 0x09
	AuthenticationRequired       Code = 0x0A
	AlreadyAuthenticated         Code = 0x0B
	AuthenticationFailed         Code = 0x0C
	Unauthorized                 Code = 0x0D
	Other                        Code = 0xFF
)

func (c Code) String() string {
	switch c {
	case IllegalWildcard:
		return "IllegalWildcard"
	case IllegalMultiWildcard:
		return "IllegalMultiWildcard"
	case MultiWildcardAtIllegalPosition:
		return "MultiWildcardAtIllegalPosition"
	case IoError:
		return "IoError"
	case SerdeError:
		return "SerdeError"
	case NoSuchValue:
		return "NoSuchValue"
	case NotSubscribed:
		return "NotSubscribed"
	case ProtocolNegotiationFailed:
		return "ProtocolNegotiationFailed"
	case InvalidServerResponse:
		return "InvalidServerResponse"
	case ReadOnlyKey:
		return "ReadOnlyKey"
	case AuthenticationRequired:
		return "AuthenticationRequired"
	case AlreadyAuthenticated:
		return "AlreadyAuthenticated"
	case AuthenticationFailed:
		return "AuthenticationFailed"
	case Unauthorized:
		return "Unauthorized"
	default:
		return "Other"
	}
}

// WorterbuchError is the error carried in an Err frame: a code plus the
// key/pattern/metadata that explains it.
type WorterbuchError struct {
	Code     Code
	Key      string
	Metadata string
}

func New(code Code, key string) *WorterbuchError {
	return &WorterbuchError{Code: code, Key: key}
}

func (e *WorterbuchError) Error() string {
	if e.Metadata != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Key, e.Metadata)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Key)
}
