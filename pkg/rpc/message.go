// Package rpc implements the binary framed RPC transport's message
// envelope and node-tree routing: typed request/response/notification
// messages addressed by slash-delimited path, dispatched through a tree
// of named nodes with synchronous request/response correlation.
package rpc

import (
	"errors"
	"fmt"

	"github.com/edgelink/core/pkg/fixedbuf"
)

// MessageType identifies an RpcMessage's role.
type MessageType uint8

const (
	Request MessageType = iota
	Response
	Notification
)

func (t MessageType) String() string {
	switch t {
	case Request:
		return "Request"
	case Response:
		return "Response"
	case Notification:
		return "Notification"
	default:
		return "Unknown"
	}
}

// MaxMethodNameLen bounds a method's registered name, mirroring the
// original implementation's compile-time method-name cap.
const MaxMethodNameLen = 10

var (
	ErrMethodNameTooLong = errors.New("rpc: method name exceeds MaxMethodNameLen")
	ErrMalformedPayload  = errors.New("rpc: malformed message payload")
)

// Message is the typed envelope routed by a Node tree. Params and
// ResponseParams are plain byte slices (the wire payload tail) rather
// than a LinkedField chain -- a Node never needs to resize them in
// place the way a framer's in-flight buffer does.
type Message struct {
	Type MessageType
	ID   uint16 // valid for Request/Response only

	SourcePath      string
	DestinationPath string
	MethodName      string // valid for Request only

	Params         []byte
	ResponseParams []byte // valid for Response only
}

// EncodeMessage serializes msg into buf per the wire layout:
// type(1) + [id(2, LE) for Request/Response] + [method_name NUL for
// Request] + source_path NUL + destination_path NUL + params bytes.
func EncodeMessage(buf *fixedbuf.Buffer, msg *Message) error {
	if len(msg.MethodName) > MaxMethodNameLen {
		return ErrMethodNameTooLong
	}
	if err := buf.AppendU8(uint8(msg.Type)); err != nil {
		return err
	}
	if msg.Type == Request || msg.Type == Response {
		if err := buf.AppendU16LE(msg.ID); err != nil {
			return err
		}
	}
	if msg.Type == Request {
		if err := buf.AppendCString(msg.MethodName); err != nil {
			return err
		}
	}
	if err := buf.AppendCString(msg.SourcePath); err != nil {
		return err
	}
	if err := buf.AppendCString(msg.DestinationPath); err != nil {
		return err
	}
	params := msg.Params
	if msg.Type == Response {
		params = msg.ResponseParams
	}
	return buf.Append(params)
}

// DecodeMessage parses a message payload previously framed by the RPC
// transport (the bytes between the version byte and the trailer).
func DecodeMessage(payload []byte) (*Message, error) {
	buf, err := fixedbuf.NewFromBytes(payload, len(payload))
	if err != nil {
		return nil, fmt.Errorf("rpc: wrap payload: %w", err)
	}

	typeByte, err := buf.GetU8(0)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	msg := &Message{Type: MessageType(typeByte)}
	cursor := 1

	if msg.Type == Request || msg.Type == Response {
		id, err := buf.GetU16LE(cursor)
		if err != nil {
			return nil, ErrMalformedPayload
		}
		msg.ID = id
		cursor += 2
	}

	if msg.Type == Request {
		name, err := buf.GetCString(cursor)
		if err != nil {
			return nil, ErrMalformedPayload
		}
		msg.MethodName = name
		cursor += len(name) + 1
	}

	src, err := buf.GetCString(cursor)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	msg.SourcePath = src
	cursor += len(src) + 1

	dst, err := buf.GetCString(cursor)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	msg.DestinationPath = dst
	cursor += len(dst) + 1

	tail, err := buf.Get(cursor, buf.Len()-cursor)
	if err != nil {
		return nil, ErrMalformedPayload
	}
	if msg.Type == Response {
		msg.ResponseParams = tail
	} else {
		msg.Params = tail
	}

	return msg, nil
}
