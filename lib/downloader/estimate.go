package downloader

import (
	"context"
	"net/http"
	"sync/atomic"

	"vaultsync-backend/lib/catalog"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const maxSizeProbes = 5

// SizeUnknown is reported when no probe yields a content length.
const SizeUnknown int64 = -1

// EstimateSize guesses the total byte size of a batch by HEAD-probing
// a bounded prefix of it and extrapolating the average over the full
// batch. strictly best-effort, every probe failure is swallowed.
func (m *Manager) EstimateSize(ctx context.Context, entries []catalog.Entry, cookies []*http.Cookie) int64 {
	ctx, span := tracer.Start(ctx, "EstimateSize")
	defer span.End()

	probes := entries
	if len(probes) > maxSizeProbes {
		probes = probes[:maxSizeProbes]
	}
	if len(probes) == 0 {
		return SizeUnknown
	}

	m.setCookies(cookies)

	var sampled atomic.Int64
	var sampledBytes atomic.Int64

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(maxSizeProbes)
	for _, entry := range probes {
		entry := entry
		group.Go(func() error {
			if entry.DownloadLink == "" {
				return nil
			}
			res, err := m.http.R().
				SetContext(ctx).
				Head(entry.DownloadLink)
			if err != nil {
				return nil
			}
			if res.StatusCode() < 200 || res.StatusCode() >= 300 {
				return nil
			}
			length := res.RawResponse.ContentLength
			if length > 0 {
				sampled.Add(1)
				sampledBytes.Add(length)
			}
			return nil
		})
	}
	group.Wait()

	n := sampled.Load()
	if n == 0 {
		return SizeUnknown
	}

	estimate := sampledBytes.Load() / n * int64(len(entries))
	span.SetAttributes(attribute.Int64("estimated_bytes", estimate))
	return estimate
}
