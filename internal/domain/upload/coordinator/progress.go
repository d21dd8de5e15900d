// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package coordinator

import (
	"io"

	"golang.org/x/time/rate"

	"github.com/ManuGH/uplink/internal/metrics"
)

// progressReader counts bytes read from the wrapped reader and reports the
// percentage through report, at most limiter's rate. The final 100 is
// reported by the caller once the destination acknowledged the body.
type progressReader struct {
	r       io.Reader
	total   int64
	read    int64
	limiter *rate.Limiter
	report  func(pct float64)
}

func newProgressReader(r io.Reader, total int64, perSecond float64, report func(float64)) *progressReader {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &progressReader{
		r:       r,
		total:   total,
		limiter: rate.NewLimiter(limit, 1),
		report:  report,
	}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		metrics.AddTransferBytes(n)
		if p.limiter.Allow() {
			p.report(p.percent())
		}
	}
	return n, err
}

func (p *progressReader) percent() float64 {
	if p.total <= 0 {
		return 0
	}
	pct := float64(p.read) * 100 / float64(p.total)
	// 100 means the backend has the object, not that we sent it.
	if pct >= 100 {
		return 99.9
	}
	return pct
}
