package demux

const (
	tsMaximum           = 0x1FFFFFFFF // 33 bits
	tsNegativeThreshold = tsMaximum / 2
	tsClockRate         = 90000
)

// timeDecoder unwraps 33-bit 90 kHz transport stream timestamps into a
// monotonic microsecond timeline starting at the first timestamp seen.
type timeDecoder struct {
	started bool
	overall int64
	prev    int64
}

func (d *timeDecoder) decode(ts int64) int64 {
	if !d.started {
		d.started = true
		d.prev = ts
		return 0
	}

	diff := (ts - d.prev) & tsMaximum
	if diff > tsNegativeThreshold {
		diff = (d.prev - ts) & tsMaximum
		d.overall -= diff
	} else {
		d.overall += diff
	}
	d.prev = ts

	// split to keep precision without overflowing
	secs := d.overall / tsClockRate
	rem := d.overall % tsClockRate
	return secs*1_000_000 + rem*1_000_000/tsClockRate
}
