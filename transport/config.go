package transport

import "time"

// Config holds every connection-level tunable named across the spec's
// component sections. A zero Config is not usable; callers should
// start from NewConfig and override fields as needed, mirroring the
// teacher's transport.Config (spec section 6).
type Config struct {
	// TLS / version.
	TLSConfig interface{} // *tls.Config; kept as interface{} here to avoid importing crypto/tls in every file that embeds Config.
	Version   uint32

	// Connection IDs (spec 4.8).
	ConnectionIDLength int
	ActiveConnectionIDLimit uint64

	// Stream limits (spec 4.1).
	InitialMaxStreamsBidi uint64
	InitialMaxStreamsUni  uint64
	InitialMaxStreamData  uint64

	// Connection-level flow control (spec 4.5).
	ConnFlowControlInitialRwnd uint64
	ConnFlowControlMaxRwndSize uint64
	ConnFlowControlInitialSwnd uint64

	// Congestion control (spec 4.4).
	InitialCongestionWindow uint64
	MinCongestionWindow     uint64
	MaxCongestionWindow     uint64
	DisablePRR              bool
	SlowStartLargeReduction bool

	// Loss recovery / ack generation (spec 4.3/4.7).
	MaxAckDelay      time.Duration
	AckDelayExponent uint8
	MaxIdleTimeout   time.Duration

	// Retry / address validation (spec 4.2).
	RequireAddressValidation bool
	RetryTokenLifetime       time.Duration
}

// NewConfig returns a Config populated with the defaults this stack
// ships with. AckDelayExponent and MaxAckDelay equal the RFC 9000
// section 18.2 defaults; the connection id limit, stream limits,
// windows and idle timeout are this stack's own values.
func NewConfig() *Config {
	return &Config{
		Version:                 version,
		ConnectionIDLength:      connIDLen,
		ActiveConnectionIDLimit: 4,

		InitialMaxStreamsBidi: 100,
		InitialMaxStreamsUni:  100,
		InitialMaxStreamData:  1 << 20,

		ConnFlowControlInitialRwnd: 1 << 22,
		ConnFlowControlMaxRwndSize: 1 << 24,
		ConnFlowControlInitialSwnd: 1 << 22,

		InitialCongestionWindow: 10 * maxDatagramSize,
		MinCongestionWindow:     2 * maxDatagramSize,
		MaxCongestionWindow:     10 << 20,
		SlowStartLargeReduction: true,

		MaxAckDelay:      25 * time.Millisecond,
		AckDelayExponent: 3,
		MaxIdleTimeout:   30 * time.Second,

		RetryTokenLifetime: 10 * time.Second,
	}
}
