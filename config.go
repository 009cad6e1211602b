package ike

import (
	"errors"
	"net"

	"github.com/msgboxio/log"
	"github.com/vpngw/ike/protocol"
)

// Config is the static policy for one gateway: the PSK, the proposals we
// are willing to accept, the addresses we hand out to clients, and the
// traffic selectors we advertise. One Config is shared by every Session.
type Config struct {
	// Title/Version compose the responder identity string "{title}-{version}"
	// carried in IDr during IKE_AUTH.
	Title, Version string

	PSK        []byte
	AuthMethod protocol.AuthMethod // always AUTH_SHARED_KEY_MESSAGE_INTEGRITY_CODE; no cert support

	ProposalIke, ProposalEsp protocol.Transforms

	TsI, TsR []*protocol.Selector

	// InternalIP/DNS are handed to the client via IKEv2 CP_REPLY.
	InternalIP net.IP
	DNS        net.IP

	// InternalIPv1 is handed out via IKEv1 Mode Config; RFC 2409
	// implementations of this vintage hard-coded a distinct pool from the
	// IKEv2 CP_REPLY address, which this gateway reproduces.
	InternalIPv1 net.IP

	IsTransportMode bool

	// ThrottleInitRequests, when set, makes IKE_SA_INIT request a COOKIE
	// from initiators that didn't already present one.
	ThrottleInitRequests bool
}

func DefaultConfig() *Config {
	return &Config{
		Title:        "vpngw",
		Version:      "1.0",
		AuthMethod:   protocol.AUTH_SHARED_KEY_MESSAGE_INTEGRITY_CODE,
		ProposalIke:  protocol.IKE_AES_CBC_SHA256_MODP2048,
		ProposalEsp:  protocol.ESP_AES_CBC_SHA2_256,
		InternalIP:   net.IPv4(1, 0, 0, 1),
		InternalIPv1: net.IPv4(10, 0, 0, 1),
	}
}

// CheckProposals picks the first proposal of the given protocol whose
// transform chain matches our configuration and returns it, truncated to
// only that transform chain per RFC 7296 2.7. The caller echoes the
// returned proposal back with its SPI substituted.
func (cfg *Config) CheckProposals(prot protocol.ProtocolId, proposals protocol.Proposals) (*protocol.SaProposal, error) {
	for _, prop := range proposals {
		if prop.ProtocolId != prot {
			continue
		}
		var want protocol.Transforms
		switch prot {
		case protocol.IKE:
			want = cfg.ProposalIke
		case protocol.ESP:
			want = cfg.ProposalEsp
		default:
			continue
		}
		if !hasAesCbc(prot, prop.SaTransforms) {
			continue
		}
		if want.Within(prop.SaTransforms) {
			return &protocol.SaProposal{
				IsLast:       true,
				Number:       prop.Number,
				ProtocolId:   prot,
				Spi:          prop.Spi,
				SaTransforms: want.AsList(),
			}, nil
		}
	}
	return nil, errors.New("acceptable proposals are missing")
}

// hasAesCbc enforces the "MUST pick the first acceptable proposal whose
// encryption transform is AES-CBC" rule.
func hasAesCbc(prot protocol.ProtocolId, trs []*protocol.SaTransform) bool {
	for _, tr := range trs {
		if tr.Transform.Type == protocol.TRANSFORM_TYPE_ENCR {
			return protocol.EncrTransformId(tr.Transform.TransformId) == protocol.ENCR_AES_CBC
		}
	}
	return false
}

// AddSelector builds traffic selectors from an initiator/responder address
// pair, the IPv4-range wire form used throughout this gateway.
func (cfg *Config) AddSelector(initiator, responder *net.IPNet) (err error) {
	first, last, err := IPNetToFirstLastAddress(initiator)
	if err != nil {
		return
	}
	cfg.TsI = []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		StartPort:    0,
		Endport:      65535,
		StartAddress: first,
		EndAddress:   last,
	}}
	first, last, err = IPNetToFirstLastAddress(responder)
	if err != nil {
		return
	}
	cfg.TsR = []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		StartPort:    0,
		Endport:      65535,
		StartAddress: first,
		EndAddress:   last,
	}}
	return
}

// anyTrafficSelectors is the 0.0.0.0/0 selector pair offered/echoed when a
// client doesn't narrow its traffic selectors.
func anyTrafficSelectors() []*protocol.Selector {
	return []*protocol.Selector{{
		Type:         protocol.TS_IPV4_ADDR_RANGE,
		StartPort:    0,
		Endport:      65535,
		StartAddress: []byte{0, 0, 0, 0},
		EndAddress:   []byte{255, 255, 255, 255},
	}}
}

func ProposalFromTransform(prot protocol.ProtocolId, trs protocol.Transforms, spi []byte) []*protocol.SaProposal {
	return []*protocol.SaProposal{
		{
			IsLast:       true,
			Number:       1,
			ProtocolId:   prot,
			Spi:          append([]byte{}, spi...),
			SaTransforms: trs.AsList(),
		},
	}
}

func logTsMismatch(tsI, tsR []*protocol.Selector, cfgI, cfgR []*protocol.Selector) {
	log.Infof("offered selectors: [INI]%v<=>%v[RES], configured: [INI]%v<=>%v[RES]", tsI, tsR, cfgI, cfgR)
}
