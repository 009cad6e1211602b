package main

import (
	"net"
	"sync"
)

// memDNSCache is a process-local DNS answer cache keyed by the raw query
// name, the concrete collaborator behind ike.DNSCache for this entrypoint
// (the core only depends on the interface, grounded on the original
// implementation's dict-backed dns.DNSCache).
type memDNSCache struct {
	mu      sync.Mutex
	names   map[string]string // ip.String() -> domain name, best-effort reverse mapping
	answers map[string][]byte // query name -> last raw answer payload
}

func newMemDNSCache() *memDNSCache {
	return &memDNSCache{
		names:   make(map[string]string),
		answers: make(map[string][]byte),
	}
}

func (c *memDNSCache) IP2Domain(ip net.IP) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names[ip.String()]; ok {
		return name
	}
	return ip.String()
}

func (c *memDNSCache) Query(record []byte) ([]byte, bool) {
	name, ok := dnsQuestionName(record)
	if !ok {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	answer, ok := c.answers[name]
	return answer, ok
}

func (c *memDNSCache) Answer(record []byte, reply []byte) {
	name, ok := dnsQuestionName(record)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[name] = reply
}

// dnsQuestionName extracts the QNAME from a DNS message's question section
// well enough to key the cache; it does not validate compression pointers
// since queries this gateway forwards are never compressed.
func dnsQuestionName(msg []byte) (string, bool) {
	if len(msg) < 12 {
		return "", false
	}
	i := 12
	var labels []string
	for i < len(msg) {
		n := int(msg[i])
		if n == 0 {
			i++
			break
		}
		if n&0xc0 != 0 || i+1+n > len(msg) {
			return "", false
		}
		labels = append(labels, string(msg[i+1:i+1+n]))
		i += 1 + n
	}
	if len(labels) == 0 {
		return "", false
	}
	name := labels[0]
	for _, l := range labels[1:] {
		name += "." + l
	}
	return name, true
}
