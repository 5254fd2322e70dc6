package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/consent-audit/api/schemas"
)

// SnapshotBuilder assembles the complete evidence for one phase. Building a
// snapshot is a pure read: it never navigates, clicks or mutates page state,
// so it can run at any point without disturbing the journey.
type SnapshotBuilder struct {
	logger    *zap.Logger
	collector *Collector
	maskLimit int
	nowMs     func() int64
}

// NewSnapshotBuilder wires a builder to the run's collector. maskLimit is the
// storage-value length beyond which values are masked.
func NewSnapshotBuilder(logger *zap.Logger, collector *Collector, maskLimit int) *SnapshotBuilder {
	return &SnapshotBuilder{
		logger:    logger.Named("snapshot"),
		collector: collector,
		maskLimit: maskLimit,
		nowMs:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Build captures the jar and page storage concurrently, joins them with the
// phase's accumulated network evidence and returns the snapshot. A failed
// capture degrades to an empty slice; partial evidence beats none.
func (b *SnapshotBuilder) Build(ctx context.Context, phase schemas.Phase, page Page) *schemas.Snapshot {
	var (
		cookies []schemas.Cookie
		storage []schemas.StorageItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cookies, err = page.Cookies(gctx)
		if err != nil {
			b.logger.Warn("Cookie jar read failed, snapshot degrades",
				zap.String("phase", string(phase)), zap.Error(err))
			cookies = nil
		}
		return nil
	})
	g.Go(func() error {
		var err error
		storage, err = page.ReadStorage(gctx)
		if err != nil {
			b.logger.Warn("Storage read failed, snapshot degrades",
				zap.String("phase", string(phase)), zap.Error(err))
			storage = nil
		}
		return nil
	})
	// Errors are absorbed above; the group only coordinates completion.
	_ = g.Wait()

	for i := range storage {
		storage[i].Value, storage[i].Masked = maskStorageValue(storage[i].Value, b.maskLimit)
	}

	snap := &schemas.Snapshot{
		Phase:            phase,
		Requests:         b.collector.RecordsByPhase(phase),
		JarCookies:       cookies,
		SetCookieHeaders: b.collector.SetCookiesByPhase(phase),
		Storage:          storage,
		TimestampMs:      b.nowMs(),
	}
	b.logger.Debug("Snapshot built",
		zap.String("phase", string(phase)),
		zap.Int("requests", len(snap.Requests)),
		zap.Int("jar_cookies", len(snap.JarCookies)),
		zap.Int("set_cookie_headers", len(snap.SetCookieHeaders)),
		zap.Int("storage_items", len(snap.Storage)))
	return snap
}
