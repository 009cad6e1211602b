package ike

import (
	"encoding/binary"

	"github.com/msgboxio/log"
	"golang.org/x/net/ipv4"
)

const (
	ipProtoICMP = 1
	ipProtoTCP  = 6
	ipProtoUDP  = 17
	dnsPort     = 53
)

// Router dispatches one decrypted inner IPv4 datagram to the UDP, TCP, or
// ICMP path. It is the only consumer of the external connector, DNS
// cache, and TCP relay contracts - the Child SA data plane never touches
// them directly.
type Router struct {
	Connector OutboundConnector
	DNS       DNSCache
	TCP       TCPRelay
}

// Route decodes the inner IPv4 header and dispatches on its protocol field.
// reply re-enters the owning Child SA's outbound ESP path with whatever
// inner IPv4 datagram the handler produces.
func (r *Router) Route(raw []byte, reply func([]byte)) {
	h, err := ipv4.ParseHeader(raw)
	if err != nil {
		log.Debugf("ike: drop unparseable inner ipv4: %v", err)
		return
	}
	if h.Len > len(raw) {
		log.Debugf("ike: drop truncated inner ipv4")
		return
	}
	body := raw[h.Len:]
	switch h.Protocol {
	case ipProtoUDP:
		r.routeUDP(h, body, reply)
	case ipProtoTCP:
		r.routeTCP(h, body, reply)
	case ipProtoICMP:
		r.routeICMP(h, body)
	default:
		log.Debugf("ike: drop inner protocol %d", h.Protocol)
	}
}

func (r *Router) routeUDP(h *ipv4.Header, seg []byte, reply func([]byte)) {
	if len(seg) < 8 {
		return
	}
	srcPort := binary.BigEndian.Uint16(seg[0:2])
	dstPort := binary.BigEndian.Uint16(seg[2:4])
	payload := seg[8:]

	flow := FlowKey{ClientAddr: h.Src, ClientPort: srcPort}

	if dstPort == dnsPort && r.DNS != nil {
		if answer, ok := r.DNS.Query(payload); ok {
			reply(buildIPv4UDP(h.Dst, h.Src, dnsPort, srcPort, answer))
			return
		}
	}

	if r.Connector == nil {
		return
	}
	err := r.Connector.UDPSendTo(h.Dst.String(), int(dstPort), payload, func(resp []byte) {
		if dstPort == dnsPort && r.DNS != nil {
			r.DNS.Answer(payload, resp)
		}
		reply(buildIPv4UDP(h.Dst, h.Src, dstPort, srcPort, resp))
	}, flow)
	if err != nil {
		log.Debugf("ike: udp send to %s:%d failed: %v", h.Dst, dstPort, err)
	}
}

func (r *Router) routeTCP(h *ipv4.Header, seg []byte, reply func([]byte)) {
	if len(seg) < 4 || r.TCP == nil {
		return
	}
	srcPort := binary.BigEndian.Uint16(seg[0:2])
	flow := FlowKey{ClientAddr: h.Src, ClientPort: srcPort}
	if err := r.TCP.Segment(flow, seg, reply); err != nil {
		log.Debugf("ike: tcp segment for %v failed: %v", flow, err)
	}
}

// routeICMP only decodes and logs: the gateway has no raw socket privilege
// to relay an inner ICMP message on.
func (r *Router) routeICMP(h *ipv4.Header, seg []byte) {
	if len(seg) < 2 {
		return
	}
	log.V(1).Infof("ike: inner icmp type=%d code=%d from %s", seg[0], seg[1], h.Src)
}

func ipv4Checksum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = sum&0xffff + sum>>16
	}
	return ^uint16(sum)
}

// buildIPv4UDP assembles a minimal IPv4/UDP datagram carrying payload from
// src:srcPort to dst:dstPort, used to hand DNS and other UDP replies back
// to the Child SA's outbound ESP path.
func buildIPv4UDP(src, dst []byte, srcPort, dstPort uint16, payload []byte) []byte {
	udpLen := 8 + len(payload)
	totalLen := 20 + udpLen

	b := make([]byte, totalLen)
	b[0] = 0x45
	b[1] = 0
	binary.BigEndian.PutUint16(b[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(b[4:6], 0)
	binary.BigEndian.PutUint16(b[6:8], 0)
	b[8] = 64
	b[9] = ipProtoUDP
	copy(b[12:16], src)
	copy(b[16:20], dst)
	binary.BigEndian.PutUint16(b[10:12], ipv4Checksum(b[0:20]))

	udp := b[20:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[8:], payload)
	// UDP checksum is optional over IPv4; left zero rather than computing
	// the pseudo-header sum, matching this gateway's "best-effort reply
	// reconstruction" scope.
	return b
}
