package stream

import "time"

// tokens are estimated at four characters apiece, the usual rule of
// thumb when the gateway reports no usage.
const charsPerToken = 4

// Stats accumulates timing and throughput for one streaming request.
// It only records; derived numbers are computed by Snapshot.
type Stats struct {
	start      time.Time
	firstToken time.Time
	chars      int
}

// NewStats starts accumulating from the given request start time.
func NewStats(start time.Time) *Stats {
	return &Stats{start: start}
}

// RecordFirstToken notes when the first text-bearing delta arrived.
// Only the first call has any effect.
func (s *Stats) RecordFirstToken(t time.Time) {
	if s.firstToken.IsZero() {
		s.firstToken = t
	}
}

// FirstToken returns when the first token arrived, if one ever did.
func (s *Stats) FirstToken() (time.Time, bool) {
	return s.firstToken, !s.firstToken.IsZero()
}

// AddChars counts delivered text, visible and reasoning alike.
func (s *Stats) AddChars(n int) {
	s.chars += n
}

// Snapshot derives the final Timing as of the given end time.
// Throughput is measured over the generation window, from first token
// to end of stream.
func (s *Stats) Snapshot(end time.Time) Timing {
	t := Timing{
		TotalTime:       end.Sub(s.start),
		EstimatedTokens: s.chars / charsPerToken,
	}

	if s.firstToken.IsZero() {
		return t
	}
	t.TimeToFirstToken = s.firstToken.Sub(s.start)

	window := end.Sub(s.firstToken).Seconds()
	if window > 0 {
		t.TokensPerSecond = (float64(s.chars) / charsPerToken) / window
	}

	return t
}
