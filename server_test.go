package quic

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(NewConfig())
}

func TestServerTokenRoundTrip(t *testing.T) {
	s := newTestServer(t)
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 51000}
	odcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	token := s.mintToken(remote, odcid)
	got, ok := s.validateToken(token, remote)
	require.True(t, ok)
	assert.Equal(t, odcid, got)
}

func TestServerTokenRejectsWrongAddress(t *testing.T) {
	s := newTestServer(t)
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 51000}
	other := &net.UDPAddr{IP: net.ParseIP("203.0.113.8"), Port: 51000}
	odcid := []byte{1, 2, 3, 4}

	token := s.mintToken(remote, odcid)
	_, ok := s.validateToken(token, other)
	assert.False(t, ok, "a token minted for one source address must not validate for another")
}

func TestServerTokenRejectsTampering(t *testing.T) {
	s := newTestServer(t)
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.7"), Port: 51000}
	token := s.mintToken(remote, []byte{9, 9, 9, 9})

	tampered := append([]byte(nil), token...)
	tampered[0] ^= 0xff
	_, ok := s.validateToken(tampered, remote)
	assert.False(t, ok)
}

func TestServerAllowRateLimitsPerAddress(t *testing.T) {
	s := newTestServer(t)
	s.SetConnRateLimit(1, 1)
	remote := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4000}

	assert.True(t, s.allow(remote), "the first attempt consumes the single burst token")
	assert.False(t, s.allow(remote), "a second immediate attempt from the same host is rate limited")

	other := &net.UDPAddr{IP: net.ParseIP("203.0.113.10"), Port: 4000}
	assert.True(t, s.allow(other), "a different source address has its own limiter")
}
