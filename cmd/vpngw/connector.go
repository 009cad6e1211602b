package main

import (
	"net"
	"strconv"

	"github.com/msgboxio/log"
	"github.com/vpngw/ike"
)

// directConnector is the simplest possible ike.OutboundConnector: it dials
// straight out from this process rather than through a configured proxy
// (grounded on the original implementation's pproxy.Connection('direct://')
// default).
type directConnector struct{}

func (directConnector) UDPSendTo(host string, port int, payload []byte, replyCb func([]byte), _ ike.FlowKey) error {
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	if _, err := conn.Write(payload); err != nil {
		conn.Close()
		return err
	}
	go func() {
		defer conn.Close()
		buf := make([]byte, 65535)
		n, err := conn.Read(buf)
		if err != nil {
			log.Debugf("vpngw: udp reply from %s:%d: %v", host, port, err)
			return
		}
		replyCb(append([]byte{}, buf[:n]...))
	}()
	return nil
}

func (directConnector) DialTCP(host string, port int) (net.Conn, error) {
	return net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}
