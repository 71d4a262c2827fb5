package contentsync

import "time"

// Policy bounds the restart loop. The zero value restarts immediately and
// forever and waits for a file without a deadline.
type Policy struct {
	MaxAttempts  int           // 0 = unbounded
	Backoff      time.Duration // delay after the first failure, doubled after each further one
	MaxBackoff   time.Duration // 0 = uncapped
	WatchTimeout time.Duration // 0 = wait indefinitely
}

// delay returns how long to wait after the given failed attempt (1-based).
func (p Policy) delay(attempt int) time.Duration {
	if p.Backoff <= 0 || attempt < 1 {
		return 0
	}

	d := p.Backoff
	for i := 1; i < attempt; i++ {
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			break
		}
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

func (p Policy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
