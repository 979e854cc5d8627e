package lnwire

import (
	"bytes"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/opd-ai/lnpeer/tlv"
)

// AddressType is the descriptor byte of a node_announcement address.
type AddressType uint8

const (
	AddrIPv4  AddressType = 1
	AddrIPv6  AddressType = 2
	AddrTorV2 AddressType = 3
	AddrTorV3 AddressType = 4
	AddrDNS   AddressType = 5
)

const (
	torV2Len = 10
	torV3Len = 35
)

// ErrInvalidAddress indicates an address that cannot be encoded or parsed.
var ErrInvalidAddress = errors.New("invalid address")

var onionEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NetAddress is one parsed entry of a node's address list. IP is set for
// IPv4/IPv6, Host for Tor and DNS entries.
type NetAddress struct {
	Type AddressType
	IP   netip.Addr
	Host string
	Port uint16
}

// NewNetAddress builds an address from a TCP host:port string, choosing the
// descriptor from the host form.
func NewNetAddress(hostport string) (NetAddress, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return NetAddress{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return NetAddress{}, fmt.Errorf("%w: port %q", ErrInvalidAddress, portStr)
	}

	if ip, err := netip.ParseAddr(host); err == nil {
		if ip.Is4() || ip.Is4In6() {
			return NetAddress{Type: AddrIPv4, IP: ip.Unmap(), Port: uint16(port)}, nil
		}
		return NetAddress{Type: AddrIPv6, IP: ip, Port: uint16(port)}, nil
	}

	if strings.HasSuffix(host, ".onion") {
		switch len(strings.TrimSuffix(host, ".onion")) {
		case 16:
			return NetAddress{Type: AddrTorV2, Host: host, Port: uint16(port)}, nil
		case 56:
			return NetAddress{Type: AddrTorV3, Host: host, Port: uint16(port)}, nil
		}
		return NetAddress{}, fmt.Errorf("%w: onion host %q", ErrInvalidAddress, host)
	}

	if len(host) == 0 || len(host) > 255 {
		return NetAddress{}, fmt.Errorf("%w: hostname length %d", ErrInvalidAddress, len(host))
	}
	return NetAddress{Type: AddrDNS, Host: host, Port: uint16(port)}, nil
}

// String returns host:port.
func (a NetAddress) String() string {
	host := a.Host
	if a.Type == AddrIPv4 || a.Type == AddrIPv6 {
		host = a.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(a.Port)))
}

func (a NetAddress) encode(w *bytes.Buffer) error {
	w.WriteByte(byte(a.Type))
	switch a.Type {
	case AddrIPv4:
		if !a.IP.Is4() {
			return fmt.Errorf("%w: %v is not IPv4", ErrInvalidAddress, a.IP)
		}
		b := a.IP.As4()
		w.Write(b[:])
	case AddrIPv6:
		if !a.IP.Is6() {
			return fmt.Errorf("%w: %v is not IPv6", ErrInvalidAddress, a.IP)
		}
		b := a.IP.As16()
		w.Write(b[:])
	case AddrTorV2, AddrTorV3:
		want := torV2Len
		if a.Type == AddrTorV3 {
			want = torV3Len
		}
		raw, err := onionEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(a.Host, ".onion")))
		if err != nil || len(raw) != want {
			return fmt.Errorf("%w: onion host %q", ErrInvalidAddress, a.Host)
		}
		w.Write(raw)
	case AddrDNS:
		if len(a.Host) == 0 || len(a.Host) > 255 {
			return fmt.Errorf("%w: hostname length %d", ErrInvalidAddress, len(a.Host))
		}
		w.WriteByte(byte(len(a.Host)))
		w.WriteString(a.Host)
	default:
		return fmt.Errorf("%w: unknown type %d", ErrInvalidAddress, a.Type)
	}
	writeUint16(w, a.Port)
	return nil
}

// errUnknownAddressType stops address list parsing without failing it.
var errUnknownAddressType = errors.New("unknown address type")

func decodeNetAddress(r *bytes.Reader) (NetAddress, error) {
	t, err := r.ReadByte()
	if err != nil {
		return NetAddress{}, tlv.ErrUnexpectedEOF
	}

	a := NetAddress{Type: AddressType(t)}
	switch a.Type {
	case AddrIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return a, tlv.ErrUnexpectedEOF
		}
		a.IP = netip.AddrFrom4(b)
	case AddrIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return a, tlv.ErrUnexpectedEOF
		}
		a.IP = netip.AddrFrom16(b)
	case AddrTorV2, AddrTorV3:
		n := torV2Len
		if a.Type == AddrTorV3 {
			n = torV3Len
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return a, tlv.ErrUnexpectedEOF
		}
		a.Host = strings.ToLower(onionEncoding.EncodeToString(raw)) + ".onion"
	case AddrDNS:
		n, err := r.ReadByte()
		if err != nil {
			return a, tlv.ErrUnexpectedEOF
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return a, tlv.ErrUnexpectedEOF
		}
		a.Host = string(raw)
	default:
		return a, errUnknownAddressType
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return a, tlv.ErrUnexpectedEOF
	}
	a.Port = binary.BigEndian.Uint16(port[:])
	return a, nil
}

// ParseAddresses decodes a raw address list. Parsing stops silently at the
// first unknown descriptor since its length cannot be known; a truncated
// known entry is an error.
func ParseAddresses(raw []byte) ([]NetAddress, error) {
	r := bytes.NewReader(raw)
	var addrs []NetAddress
	for r.Len() > 0 {
		a, err := decodeNetAddress(r)
		if errors.Is(err, errUnknownAddressType) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidAddress, len(addrs), err)
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// EncodeAddresses serializes an address list.
func EncodeAddresses(addrs []NetAddress) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range addrs {
		if err := a.encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
