package transport

import "time"

// Transport parameter identifiers (RFC 9000 section 18.2). Only the
// subset this stack negotiates is listed; unknown parameters received
// from a peer are skipped rather than rejected, per the RFC.
const (
	paramOriginalDestinationCID     = 0x00
	paramMaxIdleTimeout              = 0x01
	paramStatelessResetToken         = 0x02
	paramMaxUDPPayloadSize           = 0x03
	paramInitialMaxData              = 0x04
	paramInitialMaxStreamDataBidiLocal  = 0x05
	paramInitialMaxStreamDataBidiRemote = 0x06
	paramInitialMaxStreamDataUni     = 0x07
	paramInitialMaxStreamsBidi       = 0x08
	paramInitialMaxStreamsUni        = 0x09
	paramAckDelayExponent            = 0x0a
	paramMaxAckDelay                 = 0x0b
	paramDisableActiveMigration      = 0x0c
	paramActiveConnectionIDLimit     = 0x0e
	paramInitialSourceCID            = 0x0f
	paramRetrySourceCID              = 0x10
)

// Parameters is the decoded set of QUIC transport parameters exchanged
// during the handshake (spec section 4.9, RFC 9000 section 18).
type Parameters struct {
	OriginalDestinationCID []byte
	MaxIdleTimeout         time.Duration
	StatelessResetToken    []byte
	MaxUDPPayloadSize      uint64
	InitialMaxData         uint64
	InitialMaxStreamDataBidiLocal  uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni        uint64
	InitialMaxStreamsBidi  uint64
	InitialMaxStreamsUni   uint64
	AckDelayExponent       uint8
	MaxAckDelay            time.Duration
	DisableActiveMigration bool
	ActiveConnectionIDLimit uint64
	InitialSourceCID       []byte
	RetrySourceCID         []byte
}

func appendParamVarint(b []byte, id uint64, v uint64) []byte {
	b = appendVarint(b, id)
	b = appendVarint(b, uint64(varintLen(v)))
	return appendVarint(b, v)
}

func appendParamBytes(b []byte, id uint64, v []byte) []byte {
	b = appendVarint(b, id)
	b = appendVarint(b, uint64(len(v)))
	return append(b, v...)
}

func appendParamFlag(b []byte, id uint64) []byte {
	b = appendVarint(b, id)
	return appendVarint(b, 0)
}

// Marshal encodes the transport parameters for inclusion in the TLS
// handshake (sent as the opaque quic_transport_parameters extension).
func (p *Parameters) Marshal() []byte {
	var b []byte
	if p.OriginalDestinationCID != nil {
		b = appendParamBytes(b, paramOriginalDestinationCID, p.OriginalDestinationCID)
	}
	if p.MaxIdleTimeout > 0 {
		b = appendParamVarint(b, paramMaxIdleTimeout, uint64(p.MaxIdleTimeout/time.Millisecond))
	}
	if p.StatelessResetToken != nil {
		b = appendParamBytes(b, paramStatelessResetToken, p.StatelessResetToken)
	}
	if p.MaxUDPPayloadSize > 0 {
		b = appendParamVarint(b, paramMaxUDPPayloadSize, p.MaxUDPPayloadSize)
	}
	b = appendParamVarint(b, paramInitialMaxData, p.InitialMaxData)
	b = appendParamVarint(b, paramInitialMaxStreamDataBidiLocal, p.InitialMaxStreamDataBidiLocal)
	b = appendParamVarint(b, paramInitialMaxStreamDataBidiRemote, p.InitialMaxStreamDataBidiRemote)
	b = appendParamVarint(b, paramInitialMaxStreamDataUni, p.InitialMaxStreamDataUni)
	b = appendParamVarint(b, paramInitialMaxStreamsBidi, p.InitialMaxStreamsBidi)
	b = appendParamVarint(b, paramInitialMaxStreamsUni, p.InitialMaxStreamsUni)
	b = appendParamVarint(b, paramAckDelayExponent, uint64(p.AckDelayExponent))
	if p.MaxAckDelay > 0 {
		b = appendParamVarint(b, paramMaxAckDelay, uint64(p.MaxAckDelay/time.Millisecond))
	}
	if p.DisableActiveMigration {
		b = appendParamFlag(b, paramDisableActiveMigration)
	}
	b = appendParamVarint(b, paramActiveConnectionIDLimit, p.ActiveConnectionIDLimit)
	if p.InitialSourceCID != nil {
		b = appendParamBytes(b, paramInitialSourceCID, p.InitialSourceCID)
	}
	if p.RetrySourceCID != nil {
		b = appendParamBytes(b, paramRetrySourceCID, p.RetrySourceCID)
	}
	return b
}

// UnmarshalParameters decodes a peer's transport parameters extension.
func UnmarshalParameters(b []byte) (*Parameters, error) {
	p := &Parameters{AckDelayExponent: 3}
	for len(b) > 0 {
		var id, length uint64
		n := getVarint(b, &id)
		if n == 0 {
			return nil, newError(TransportParameterError, "truncated parameter id")
		}
		b = b[n:]
		n = getVarint(b, &length)
		if n == 0 {
			return nil, newError(TransportParameterError, "truncated parameter length")
		}
		b = b[n:]
		if uint64(len(b)) < length {
			return nil, newError(TransportParameterError, "truncated parameter value")
		}
		val := b[:length]
		b = b[length:]
		switch id {
		case paramOriginalDestinationCID:
			p.OriginalDestinationCID = append([]byte(nil), val...)
		case paramMaxIdleTimeout:
			p.MaxIdleTimeout = time.Duration(decodeParamVarint(val)) * time.Millisecond
		case paramStatelessResetToken:
			p.StatelessResetToken = append([]byte(nil), val...)
		case paramMaxUDPPayloadSize:
			p.MaxUDPPayloadSize = decodeParamVarint(val)
		case paramInitialMaxData:
			p.InitialMaxData = decodeParamVarint(val)
		case paramInitialMaxStreamDataBidiLocal:
			p.InitialMaxStreamDataBidiLocal = decodeParamVarint(val)
		case paramInitialMaxStreamDataBidiRemote:
			p.InitialMaxStreamDataBidiRemote = decodeParamVarint(val)
		case paramInitialMaxStreamDataUni:
			p.InitialMaxStreamDataUni = decodeParamVarint(val)
		case paramInitialMaxStreamsBidi:
			p.InitialMaxStreamsBidi = decodeParamVarint(val)
		case paramInitialMaxStreamsUni:
			p.InitialMaxStreamsUni = decodeParamVarint(val)
		case paramAckDelayExponent:
			p.AckDelayExponent = uint8(decodeParamVarint(val))
		case paramMaxAckDelay:
			p.MaxAckDelay = time.Duration(decodeParamVarint(val)) * time.Millisecond
		case paramDisableActiveMigration:
			p.DisableActiveMigration = true
		case paramActiveConnectionIDLimit:
			p.ActiveConnectionIDLimit = decodeParamVarint(val)
		case paramInitialSourceCID:
			p.InitialSourceCID = append([]byte(nil), val...)
		case paramRetrySourceCID:
			p.RetrySourceCID = append([]byte(nil), val...)
		}
		// Unknown parameter IDs are ignored per RFC 9000 section 7.4.1.
	}
	return p, nil
}

func decodeParamVarint(b []byte) uint64 {
	var v uint64
	getVarint(b, &v)
	return v
}
