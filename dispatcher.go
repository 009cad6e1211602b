package ike

import (
	"encoding/binary"
	"net"

	"github.com/msgboxio/log"
	"github.com/vpngw/ike/crypto"
	"github.com/vpngw/ike/protocol"
)

const ipProtoIPIP = 4 // tunnel-mode ESP next-header value for an encapsulated IPv4 datagram

// SendFunc writes one datagram back to whichever peer and port it arrived
// from, prepending the NAT-T zero-SPI marker again if it came in framed.
type SendFunc func([]byte) error

// Gateway owns the process-wide session table and the two listening
// sockets. Only the goroutine running Run ever mutates gw.table or any
// session/Child SA reachable from it; the two socket readers only ever
// produce datagrams onto a shared channel.
type Gateway struct {
	cfg    *Config
	table  *Table
	router *Router

	udp500, udp4500 Conn
}

func NewGateway(cfg *Config, udp500, udp4500 Conn, router *Router) *Gateway {
	return &Gateway{cfg: cfg, table: NewTable(), router: router, udp500: udp500, udp4500: udp4500}
}

type inboundDatagram struct {
	data   []byte
	remote net.Addr
	local  net.IP
	port   int
}

// Run is the single-threaded cooperative dispatcher loop. The two socket
// readers block in their own goroutines and never touch gw.table; this
// loop is the only place session state is read or mutated.
func (gw *Gateway) Run() error {
	ch := make(chan inboundDatagram, 64)
	if gw.udp500 != nil {
		go gw.readLoop(gw.udp500, 500, ch)
	}
	if gw.udp4500 != nil {
		go gw.readLoop(gw.udp4500, 4500, ch)
	}
	for d := range ch {
		gw.handleDatagram(d)
	}
	return nil
}

func (gw *Gateway) readLoop(conn Conn, port int, ch chan<- inboundDatagram) {
	for {
		b, remote, local, err := conn.ReadPacket()
		if err != nil {
			log.Errorf("ike: %d read: %v", port, err)
			return
		}
		ch <- inboundDatagram{data: b, remote: remote, local: local, port: port}
	}
}

// handleDatagram implements the NAT-T framing disambiguation on 4500 and
// routes everything else straight through as a bare IKE datagram.
func (gw *Gateway) handleDatagram(d inboundDatagram) {
	send := gw.sendFuncFor(d)
	if d.port != 4500 {
		gw.handleIke(d.data, d.remote, d.local, send)
		return
	}
	switch {
	case len(d.data) == 1 && d.data[0] == 0xff:
		// NAT-T keepalive: no response.
	case len(d.data) >= 4 && binary.BigEndian.Uint32(d.data[:4]) == 0:
		gw.handleIke(d.data[4:], d.remote, d.local, send)
	default:
		gw.handleEsp(d.data, send)
	}
}

func (gw *Gateway) sendFuncFor(d inboundDatagram) SendFunc {
	conn, remote := gw.udp500, d.remote
	if d.port == 4500 {
		conn = gw.udp4500
	}
	natt := d.port == 4500 && len(d.data) >= 4 && binary.BigEndian.Uint32(d.data[:4]) == 0
	return func(b []byte) error {
		if natt {
			b = append([]byte{0, 0, 0, 0}, b...)
		}
		return conn.WritePacket(b, remote)
	}
}

func (gw *Gateway) handleIke(b []byte, remote net.Addr, local net.IP, send SendFunc) {
	m, err := DecodeMessage(b)
	if err != nil {
		log.Debugf("ike: drop unparseable datagram: %v", err)
		return
	}
	m.RemoteAddr = remote
	m.LocalAddr = &net.UDPAddr{IP: local}
	switch m.IkeHeader.MajorVersion {
	case protocol.IKEV2_MAJOR_VERSION:
		gw.routeV2(m, send)
	case protocol.IKEV1_MAJOR_VERSION:
		gw.routeV1(m, send)
	default:
		log.Debugf("ike: drop unsupported major version %d", m.IkeHeader.MajorVersion)
	}
}

func isZeroSpi(spi protocol.Spi) bool {
	for _, b := range spi {
		if b != 0 {
			return false
		}
	}
	return true
}

func (gw *Gateway) routeV2(m *Message, send SendFunc) {
	h := m.IkeHeader
	if isZeroSpi(h.SpiR) {
		if h.ExchangeType != protocol.IKE_SA_INIT || h.Flags.IsResponse() {
			log.Debugf("ike: drop non-init request with zero responder spi")
			return
		}
		s := newIKEv2Responder(gw)
		s.send = send
		s.handleSaInit(m)
		return
	}
	e, ok := gw.table.Lookup(h.SpiR)
	if !ok {
		log.Debugf("ike: drop ikev2 message for unknown spi")
		return
	}
	sess, ok := e.(*IKEv2Session)
	if !ok {
		log.Debugf("ike: spi does not name an ikev2 session")
		return
	}
	sess.send = send
	sess.Process(m)
}

func (gw *Gateway) routeV1(m *Message, send SendFunc) {
	h := m.IkeHeader
	if isZeroSpi(h.SpiR) {
		if h.ExchangeType != protocol.IDENTITY_1 || h.Flags.IsResponse() {
			log.Debugf("ike: drop non-main-mode request with zero responder cookie")
			return
		}
		s := newIKEv1Responder(gw)
		s.send = send
		s.handleMainModeI(m)
		return
	}
	e, ok := gw.table.Lookup(h.SpiR)
	if !ok {
		log.Debugf("ike: drop ikev1 message for unknown cookie")
		return
	}
	sess, ok := e.(*IKEv1Session)
	if !ok {
		log.Debugf("ike: cookie does not name an ikev1 session")
		return
	}
	sess.send = send
	sess.Process(m)
}

func (gw *Gateway) handleEsp(b []byte, send SendFunc) {
	spi, seq, ct, err := crypto.ParseEspHeader(b)
	if err != nil {
		log.Debugf("ike: drop short esp datagram: %v", err)
		return
	}
	spiBytes := make(protocol.Spi, 4)
	binary.BigEndian.PutUint32(spiBytes, spi)
	e, ok := gw.table.Lookup(spiBytes)
	if !ok {
		log.Debugf("ike: drop esp for unknown spi")
		return
	}
	child, ok := e.(*ChildSA)
	if !ok {
		log.Debugf("ike: spi does not name a child sa")
		return
	}
	nextHeader, payload, err := child.Open(seq, ct)
	if err != nil {
		log.Debugf("ike: esp open failed: %v", err)
		return
	}
	if child.IsTransportMode || nextHeader != ipProtoIPIP {
		log.V(1).Infof("ike: drop esp payload with next header %d (transport mode %v)", nextHeader, child.IsTransportMode)
		return
	}
	if gw.router == nil {
		return
	}
	gw.router.Route(payload, func(reply []byte) {
		if err := child.SealAndSend(ipProtoIPIP, reply, send); err != nil {
			log.Debugf("ike: esp reply failed: %v", err)
		}
	})
}
