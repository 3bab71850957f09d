// Package timeout computes adaptive timeout budgets for streaming
// requests.
//
// A fixed timeout that works on a fast workstation link strangles the
// same request on a phone or a congested network. Instead of one
// number, each request gets a budget of three phases scaled by the
// conditions observed when the request starts.
package timeout

import "time"

// Options adjust a base timeout. Multipliers at or below zero are
// treated as absent.
type Options struct {
	MobileMultiplier      float64
	SlowNetworkMultiplier float64
	HiddenMultiplier      float64
	// Max caps the scaled result. Zero means no cap.
	Max time.Duration
}

// Compute scales base by every present multiplier and clamps the
// result to Max.
func Compute(base time.Duration, opts Options) time.Duration {
	scaled := float64(base)
	for _, m := range []float64{opts.MobileMultiplier, opts.SlowNetworkMultiplier, opts.HiddenMultiplier} {
		if m > 0 {
			scaled *= m
		}
	}
	d := time.Duration(scaled)
	if opts.Max > 0 && d > opts.Max {
		d = opts.Max
	}
	return d
}

// Config holds the tunable inputs for building a Budget.
type Config struct {
	// Base waits for each phase before any scaling.
	FirstChunkBase time.Duration
	InterChunkBase time.Duration
	TotalBase      time.Duration

	// Multipliers applied when the matching signal is set.
	MobileMultiplier      float64
	SlowNetworkMultiplier float64
	HiddenMultiplier      float64

	// Max caps every scaled phase.
	Max time.Duration
}

// DefaultConfig returns the stock timeout tuning.
func DefaultConfig() Config {
	return Config{
		FirstChunkBase:        30 * time.Second,
		InterChunkBase:        15 * time.Second,
		TotalBase:             5 * time.Minute,
		MobileMultiplier:      1.5,
		SlowNetworkMultiplier: 2.0,
		HiddenMultiplier:      2.0,
		Max:                   10 * time.Minute,
	}
}

// Signals capture the environment conditions observed when a request
// starts. Callers sample them once; a budget never changes mid-stream.
type Signals struct {
	Mobile      bool
	SlowNetwork bool
	Hidden      bool
}

// Budget fixes the three timeout phases for one streaming request.
type Budget struct {
	// FirstChunk bounds the wait from connect to the first received
	// frame.
	FirstChunk time.Duration
	// InterChunk bounds the gap between consecutive frames.
	InterChunk time.Duration
	// Total bounds the whole request.
	Total time.Duration
}

// NewBudget builds the Budget for one request from the configured
// tuning and the sampled signals.
func NewBudget(cfg Config, sig Signals) Budget {
	opts := Options{Max: cfg.Max}
	if sig.Mobile {
		opts.MobileMultiplier = cfg.MobileMultiplier
	}
	if sig.SlowNetwork {
		opts.SlowNetworkMultiplier = cfg.SlowNetworkMultiplier
	}
	if sig.Hidden {
		opts.HiddenMultiplier = cfg.HiddenMultiplier
	}
	return Budget{
		FirstChunk: Compute(cfg.FirstChunkBase, opts),
		InterChunk: Compute(cfg.InterChunkBase, opts),
		Total:      Compute(cfg.TotalBase, opts),
	}
}
