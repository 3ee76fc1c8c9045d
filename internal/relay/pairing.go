package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

var ErrInvalidPeerInfo = errors.New("invalid peer connection info")

// PeerInfo is what a host's pairing QR code carries.
type PeerInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// ParsePeerInfo accepts either "ip:port" or {"ip":...,"port":...}. The port
// may be a JSON string.
func ParsePeerInfo(payload string) (PeerInfo, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return PeerInfo{}, ErrInvalidPeerInfo
	}

	var info PeerInfo
	if strings.HasPrefix(payload, "{") {
		var raw struct {
			IP   string          `json:"ip"`
			Port json.RawMessage `json:"port"`
		}
		if err := json.Unmarshal([]byte(payload), &raw); err != nil {
			return PeerInfo{}, fmt.Errorf("%w: %v", ErrInvalidPeerInfo, err)
		}
		port, err := strconv.Atoi(strings.Trim(string(raw.Port), `"`))
		if err != nil {
			return PeerInfo{}, fmt.Errorf("%w: bad port %s", ErrInvalidPeerInfo, raw.Port)
		}
		info = PeerInfo{IP: raw.IP, Port: port}
	} else {
		host, portStr, err := net.SplitHostPort(payload)
		if err != nil {
			return PeerInfo{}, fmt.Errorf("%w: %v", ErrInvalidPeerInfo, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return PeerInfo{}, fmt.Errorf("%w: bad port %s", ErrInvalidPeerInfo, portStr)
		}
		info = PeerInfo{IP: host, Port: port}
	}

	if net.ParseIP(info.IP) == nil {
		return PeerInfo{}, fmt.Errorf("%w: %q is not an ip address", ErrInvalidPeerInfo, info.IP)
	}
	if info.Port < 1 || info.Port > 65535 {
		return PeerInfo{}, fmt.Errorf("%w: port %d out of range", ErrInvalidPeerInfo, info.Port)
	}
	return info, nil
}

func (p PeerInfo) Address() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// PairingPNG renders the pairing QR code clients scan in host-scan mode.
func PairingPNG(info PeerInfo, size int) ([]byte, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(string(payload), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate pairing qr code: %w", err)
	}
	return png, nil
}

// LocalIP returns the first non-loopback IPv4 address of this machine, the
// address a host advertises when none is configured.
func LocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errors.New("no non-loopback ipv4 address")
}
