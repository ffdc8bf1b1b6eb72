// Package transport implements connection pooling, request dispatch and
// server-side message handling on top of the giop wire format.
package transport

import "time"

// ConnectionConfig controls how a single TCP connection to a peer is
// established and kept.
type ConnectionConfig struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	KeepAlive      bool
	NoDelay        bool
}

// DefaultConnectionConfig returns sane defaults for dialing and handshaking.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    60 * time.Second,
		KeepAlive:      true,
		NoDelay:        true,
	}
}

// PoolConfig controls the connection pool's idle-connection sweeping.
type PoolConfig struct {
	MaxIdleTime     time.Duration
	CleanupInterval time.Duration
	AutoSweep       bool // off by default to avoid leaking timers in tests
}

// DefaultPoolConfig returns sane defaults for idle connection pooling.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleTime:     5 * time.Minute,
		CleanupInterval: time.Minute,
		AutoSweep:       false,
	}
}

// DispatchConfig controls client-side request dispatch: timeouts and
// retries.
type DispatchConfig struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// DefaultDispatchConfig returns sane defaults for request dispatch.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// FragmentConfig holds timing settings for fragment reassembly. No code in
// this package reads it: Connection.SweepFragments takes its timeout as an
// argument and runs only when called.
type FragmentConfig struct {
	FragmentTimeout time.Duration
	CleanupInterval time.Duration
}

// DefaultFragmentConfig returns sane defaults for fragment reassembly.
func DefaultFragmentConfig() FragmentConfig {
	return FragmentConfig{
		FragmentTimeout: 30 * time.Second,
		CleanupInterval: 10 * time.Second,
	}
}
