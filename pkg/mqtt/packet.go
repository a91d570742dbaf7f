package mqtt

import (
	"github.com/edgelink/core/internal/framer"
)

const (
	packetTypeConnect   = 1
	packetTypeSubscribe = 8
	packetTypePingReq   = 12
	packetTypeDisconnect = 14
)

const protocolLevel4 = 4

func appendString(dst []byte, s string) []byte {
	dst = append(dst, byte(len(s)>>8), byte(len(s)))
	return append(dst, s...)
}

func buildFixedHeader(packetType uint8, flags uint8, remaining []byte) []byte {
	rl := framer.EncodeRemainingLength(len(remaining))
	out := make([]byte, 0, 1+len(rl)+len(remaining))
	out = append(out, (packetType<<4)|(flags&0x0F))
	out = append(out, rl...)
	out = append(out, remaining...)
	return out
}

// buildConnect serializes a CONNECT packet per spec: fixed "MQTT"
// protocol name, level 4, connect flags
// (username<<7 | password<<6 | clean_session<<1), keepalive seconds BE;
// payload is client id, then will topic/payload if present, then
// username/password if present.
func buildConnect(opts ClientOptions) []byte {
	var body []byte
	body = appendString(body, "MQTT")
	body = append(body, protocolLevel4)

	var flags uint8
	if opts.CleanSession {
		flags |= 1 << 1
	}
	if opts.Will != nil {
		flags |= 1 << 2
		flags |= (opts.Will.Qos & 0x3) << 3
		if opts.Will.Retain {
			flags |= 1 << 5
		}
	}
	if opts.Password != nil {
		flags |= 1 << 6
	}
	if opts.Username != "" {
		flags |= 1 << 7
	}
	body = append(body, flags)

	body = append(body, byte(opts.KeepaliveSec>>8), byte(opts.KeepaliveSec))

	body = appendString(body, opts.ClientID)
	if opts.Will != nil {
		body = appendString(body, opts.Will.Topic)
		body = append(body, byte(len(opts.Will.Payload)>>8), byte(len(opts.Will.Payload)))
		body = append(body, opts.Will.Payload...)
	}
	if opts.Username != "" {
		body = appendString(body, opts.Username)
	}
	if opts.Password != nil {
		body = append(body, byte(len(opts.Password)>>8), byte(len(opts.Password)))
		body = append(body, opts.Password...)
	}

	return buildFixedHeader(packetTypeConnect, 0, body)
}

// buildSubscribe serializes a SUBSCRIBE packet carrying a single filter.
func buildSubscribe(packetID uint16, filter string, qos uint8) []byte {
	var body []byte
	body = append(body, byte(packetID>>8), byte(packetID))
	body = appendString(body, filter)
	body = append(body, qos)
	return buildFixedHeader(packetTypeSubscribe, 0x02, body)
}

func buildPingReq() []byte {
	return buildFixedHeader(packetTypePingReq, 0, nil)
}

func buildDisconnect() []byte {
	return buildFixedHeader(packetTypeDisconnect, 0, nil)
}
