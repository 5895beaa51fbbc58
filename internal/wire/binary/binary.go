// Package binary implements the fixed-header binary framing of the wire
// protocol: one byte message type, a fixed header per type, then
// variable-length fields, all big-endian, grounded on the original
// implementation's codec layout (transaction_id=8, key/pattern length=2,
// value/metadata length=4, num_key_value_pairs=4).
package binary

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/adred-codev/worterbuch/internal/wire"
)

// Message type bytes (client → server).
const (
	typeGet  byte = 0x00
	typeSet  byte = 0x01
	typeSub  byte = 0x02
	typePGet byte = 0x03
	typePSub byte = 0x04
	typeExp  byte = 0x05
	typeImp  byte = 0x06
	typeUsub byte = 0x07
)

// Message type bytes (server → client, high bit set).
const (
	typePSta byte = 0x80
	typeAck  byte = 0x81
	typeSta  byte = 0x82
	typeErr  byte = 0x83
	typeHshk byte = 0x84
)

// ErrShortFrame is returned when the peer closes mid-frame.
var ErrShortFrame = fmt.Errorf("binary: short frame")

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func readString(r io.Reader, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// DecodeClient reads exactly one client→server frame from r.
func DecodeClient(r *bufio.Reader) (msg wire.ClientMessage, err error) {
	msgType, err := readByte(r)
	if err != nil {
		return nil, err
	}
	defer func() {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrShortFrame
		}
	}()
	switch msgType {
	case typeGet:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		keyLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		key, err := readString(r, int(keyLen))
		if err != nil {
			return nil, err
		}
		return wire.Get{TID: wire.TransactionID(tid), Key: key}, nil

	case typeSet:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		keyLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		valueLen, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		key, err := readString(r, int(keyLen))
		if err != nil {
			return nil, err
		}
		value, err := readString(r, int(valueLen))
		if err != nil {
			return nil, err
		}
		return wire.Set{TID: wire.TransactionID(tid), Key: key, Value: value}, nil

	case typeSub:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		keyLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		key, err := readString(r, int(keyLen))
		if err != nil {
			return nil, err
		}
		unique, err := readByte(r)
		if err != nil {
			return nil, err
		}
		return wire.Subscribe{TID: wire.TransactionID(tid), Key: key, Unique: unique != 0}, nil

	case typePGet:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		patLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		pattern, err := readString(r, int(patLen))
		if err != nil {
			return nil, err
		}
		return wire.PGet{TID: wire.TransactionID(tid), Pattern: pattern}, nil

	case typePSub:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		patLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		pattern, err := readString(r, int(patLen))
		if err != nil {
			return nil, err
		}
		unique, err := readByte(r)
		if err != nil {
			return nil, err
		}
		return wire.PSubscribe{TID: wire.TransactionID(tid), Pattern: pattern, Unique: unique != 0}, nil

	case typeExp:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		pathLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		path, err := readString(r, int(pathLen))
		if err != nil {
			return nil, err
		}
		return wire.Export{TID: wire.TransactionID(tid), Path: path}, nil

	case typeImp:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		pathLen, err := readUint16(r)
		if err != nil {
			return nil, err
		}
		path, err := readString(r, int(pathLen))
		if err != nil {
			return nil, err
		}
		return wire.Import{TID: wire.TransactionID(tid), Path: path}, nil

	case typeUsub:
		tid, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return wire.Unsubscribe{TID: wire.TransactionID(tid)}, nil

	default:
		return nil, fmt.Errorf("binary: unknown client message type 0x%02x", msgType)
	}
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func writeUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// EncodeServer writes msg to w in the binary server→client framing.
func EncodeServer(w io.Writer, msg wire.ServerMessage) error {
	switch m := msg.(type) {
	case wire.Keepalive:
		// The binary framing's frame-type table has no dedicated keepalive
		// opcode; an ACK with TID 0 (never issued by a real request, since
		// transaction ids start at 1) serves as the wire keepalive.
		if _, err := w.Write([]byte{typeAck}); err != nil {
			return err
		}
		return writeUint64(w, 0)

	case wire.Ack:
		if _, err := w.Write([]byte{typeAck}); err != nil {
			return err
		}
		return writeUint64(w, uint64(m.TID))

	case wire.State:
		if _, err := w.Write([]byte{typeSta}); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(m.TID)); err != nil {
			return err
		}
		key, value := "", ""
		if m.KeyValue != nil {
			key, value = m.KeyValue.Key, m.KeyValue.Value
		} else if m.Deleted != nil {
			key = *m.Deleted
		}
		if err := writeUint16(w, uint16(len(key))); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(value))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, key); err != nil {
			return err
		}
		_, err := io.WriteString(w, value)
		return err

	case wire.PState:
		if _, err := w.Write([]byte{typePSta}); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(m.TID)); err != nil {
			return err
		}
		if err := writeUint16(w, uint16(len(m.Pattern))); err != nil {
			return err
		}
		pairs := m.KeyValuePairs
		if err := writeUint32(w, uint32(len(pairs))); err != nil {
			return err
		}
		for _, kv := range pairs {
			if err := writeUint16(w, uint16(len(kv.Key))); err != nil {
				return err
			}
			if err := writeUint32(w, uint32(len(kv.Value))); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, m.Pattern); err != nil {
			return err
		}
		for _, kv := range pairs {
			if _, err := io.WriteString(w, kv.Key); err != nil {
				return err
			}
			if _, err := io.WriteString(w, kv.Value); err != nil {
				return err
			}
		}
		return nil

	case wire.Err:
		if _, err := w.Write([]byte{typeErr}); err != nil {
			return err
		}
		if err := writeUint64(w, uint64(m.TID)); err != nil {
			return err
		}
		if _, err := w.Write([]byte{m.Code}); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(m.Metadata))); err != nil {
			return err
		}
		_, err := io.WriteString(w, m.Metadata)
		return err

	case wire.Handshake:
		if _, err := w.Write([]byte{typeHshk}); err != nil {
			return err
		}
		if _, err := w.Write([]byte{byte(len(m.SupportedVersions))}); err != nil {
			return err
		}
		for _, v := range m.SupportedVersions {
			if err := writeUint16(w, v[0]); err != nil {
				return err
			}
			if err := writeUint16(w, v[1]); err != nil {
				return err
			}
		}
		_, err := w.Write([]byte{m.Separator, m.Wildcard, m.MultiWildcard})
		return err

	default:
		return fmt.Errorf("binary: unsupported server message %T", msg)
	}
}
