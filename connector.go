package ike

import "net"

// FlowKey identifies one client-originated flow by its client-side
// address and port; the router uses it to key TCP reassembly state and to
// tell the outbound connector which flow a reply belongs to.
type FlowKey struct {
	ClientAddr net.IP
	ClientPort uint16
}

// OutboundConnector is the external collaborator that performs real
// network I/O toward a decrypted packet's destination, optionally via a
// proxy. The core only ever calls through this interface.
type OutboundConnector interface {
	// UDPSendTo sends payload to host:port on behalf of origin; replyCb is
	// invoked zero or more times with datagrams received in response.
	UDPSendTo(host string, port int, payload []byte, replyCb func([]byte), origin FlowKey) error

	// DialTCP opens an outbound TCP stream; its result is consumed by the
	// TCP reassembly/relay module, not by the core directly.
	DialTCP(host string, port int) (net.Conn, error)
}

// DNSCache is the external DNS resolution cache contract.
type DNSCache interface {
	IP2Domain(ip net.IP) string
	Query(record []byte) ([]byte, bool)
	Answer(record []byte, reply []byte)
}

// TCPRelay is the external TCP reassembly/relay state machine; only its
// interface is contracted here. Segment feeds one inner TCP segment
// for the given flow; reply is invoked with any inner IPv4 datagrams that
// should be sent back to the client.
type TCPRelay interface {
	Segment(flow FlowKey, segment []byte, reply func([]byte)) error
}
