// Package candidate converts ICE candidates to and from the one-line text
// form carried on the signaling channel:
//
//	candidate:<foundation> <component> <protocol> <priority> <ip> <port> typ <kind>
package candidate

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"framebridge/native/internal/domain"
)

// ErrParse is wrapped by every error returned from Decode.
var ErrParse = errors.New("candidate parse error")

const (
	prefix    = "candidate:"
	minFields = 6
)

// Encode renders c in the signaling text form. Related-address and
// extension fields are never emitted.
func Encode(c domain.IceCandidate) string {
	kind := c.Kind
	if kind == "" {
		kind = domain.KindHost
	}
	return fmt.Sprintf("%s%s %d %s %d %s %d typ %s",
		prefix, c.Foundation, c.Component, c.Protocol, c.Priority, c.IP, c.Port, kind)
}

// Decode parses a candidate line. Only the fields needed to hand a usable
// candidate to the transport are read; anything after "typ <kind>" is
// ignored. The kind defaults to host when the typ pair is absent.
func Decode(text string, sdpMLineIndex uint16) (domain.IceCandidate, error) {
	fields := strings.Fields(text)
	if len(fields) > 0 {
		first := strings.TrimPrefix(fields[0], "a=")
		first = strings.TrimPrefix(first, prefix)
		if first == "" {
			fields = fields[1:]
		} else {
			fields[0] = first
		}
	}
	if len(fields) < minFields {
		return domain.IceCandidate{}, fmt.Errorf("%w: need %d fields, got %d", ErrParse, minFields, len(fields))
	}

	component, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return domain.IceCandidate{}, fmt.Errorf("%w: component %q", ErrParse, fields[1])
	}

	protocol := domain.Protocol(strings.ToLower(fields[2]))
	if protocol != domain.ProtocolUDP && protocol != domain.ProtocolTCP {
		return domain.IceCandidate{}, fmt.Errorf("%w: protocol %q", ErrParse, fields[2])
	}

	priority, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return domain.IceCandidate{}, fmt.Errorf("%w: priority %q", ErrParse, fields[3])
	}

	ip := fields[4]
	if !validHost(ip) {
		return domain.IceCandidate{}, fmt.Errorf("%w: address %q", ErrParse, ip)
	}

	port, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil || port == 0 {
		return domain.IceCandidate{}, fmt.Errorf("%w: port %q", ErrParse, fields[5])
	}

	kind := domain.KindHost
	if len(fields) >= 8 {
		if fields[6] != "typ" {
			return domain.IceCandidate{}, fmt.Errorf("%w: expected typ, got %q", ErrParse, fields[6])
		}
		kind = domain.CandidateKind(fields[7])
		switch kind {
		case domain.KindHost, domain.KindSrflx, domain.KindRelay, domain.KindPrflx:
		default:
			return domain.IceCandidate{}, fmt.Errorf("%w: kind %q", ErrParse, fields[7])
		}
	}

	return domain.IceCandidate{
		Foundation:    fields[0],
		Component:     uint16(component),
		Protocol:      protocol,
		Priority:      uint32(priority),
		IP:            ip,
		Port:          uint16(port),
		Kind:          kind,
		SDPMLineIndex: sdpMLineIndex,
	}, nil
}

// IsSuppressedIPv6 reports whether ip is an IPv6 literal that should not be
// offered to the remote peer. IPv4-mapped addresses are kept.
func IsSuppressedIPv6(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.Is6() && !addr.Is4In6()
}

// validHost accepts IP literals and mDNS host names.
func validHost(host string) bool {
	if _, err := netip.ParseAddr(host); err == nil {
		return true
	}
	name := strings.ToLower(host)
	return len(name) > len(".local") && strings.HasSuffix(name, ".local")
}
