package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Verifier authenticates a raw webhook delivery before anything parses it.
type Verifier interface {
	Verify(rawBody []byte, signature, remoteAddr string) bool
}

// HMACVerifier checks a hex HMAC-SHA256 of the raw body. An empty secret
// rejects everything.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(rawBody []byte, signature, _ string) bool {
	if len(v.secret) == 0 || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(got, Sign(v.secret, rawBody))
}

// Sign returns HMAC-SHA256(secret, body).
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// IPAllowlistVerifier accepts deliveries from the listed networks only. It
// is for providers that authenticate by source address.
type IPAllowlistVerifier struct {
	prefixes []netip.Prefix
}

// YooKassaNetworks are the published notification source ranges.
var YooKassaNetworks = []string{
	"185.71.76.0/27",
	"185.71.77.0/27",
	"77.75.153.0/25",
	"77.75.156.11/32",
	"77.75.156.35/32",
	"77.75.154.128/25",
	"2a02:5180::/32",
}

func NewIPAllowlistVerifier(cidrs []string) (*IPAllowlistVerifier, error) {
	v := &IPAllowlistVerifier{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("allowlist entry %q: %w", c, err)
			}
			v.prefixes = append(v.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("allowlist entry %q: %w", c, err)
		}
		v.prefixes = append(v.prefixes, p.Masked())
	}
	return v, nil
}

func (v *IPAllowlistVerifier) Verify(_ []byte, _ string, remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range v.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AllVerifier passes only when every verifier passes.
type AllVerifier []Verifier

func (a AllVerifier) Verify(rawBody []byte, signature, remoteAddr string) bool {
	if len(a) == 0 {
		return false
	}
	for _, v := range a {
		if !v.Verify(rawBody, signature, remoteAddr) {
			return false
		}
	}
	return true
}
