package ingest

import (
	"context"
	"time"

	"github.com/paynet/nexus/internal/ebics/catalog"
	"github.com/paynet/nexus/internal/store"
)

// WindowKind selects how a fetch cycle bounds the documents it asks the
// bank for, per spec.md §4.I.
type WindowKind int

const (
	// WindowLatest requests whatever the bank considers current, with no
	// explicit range.
	WindowLatest WindowKind = iota
	// WindowAll requests the full history, epoch..now.
	WindowAll
	// WindowTimeRange requests an explicit [Start, End) range.
	WindowTimeRange
	// WindowSinceLast requests [watermark, now), where the watermark is
	// this document kind's own last successful execution time.
	WindowSinceLast
)

// Window is a resolved time window for one fetch cycle.
type Window struct {
	Kind  WindowKind
	Start time.Time
	End   time.Time
}

// resolveWindow computes the concrete window to request for kind, per
// spec.md §4.I: SinceLast keeps a separate watermark per document kind,
// keyed directly by kind rather than by a coarser incoming/outgoing
// split, because reports (camt.052), statements (camt.053), and
// notifications (camt.054) are fetched on different cadences and must
// never advance each other's cursor.
func resolveWindow(ctx context.Context, st *store.Store, kind catalog.DocumentKind, cfg WindowConfig, now time.Time) (Window, error) {
	switch cfg.Kind {
	case WindowLatest:
		return Window{Kind: WindowLatest}, nil
	case WindowAll:
		return Window{Kind: WindowAll, Start: time.Unix(0, 0).UTC(), End: now}, nil
	case WindowTimeRange:
		return Window{Kind: WindowTimeRange, Start: cfg.Start, End: cfg.End}, nil
	case WindowSinceLast:
		watermark, found, err := st.LastExecTime(ctx, kind)
		if err != nil {
			return Window{}, err
		}
		if !found {
			watermark = cfg.FallbackStart
		}
		return Window{Kind: WindowSinceLast, Start: watermark, End: now}, nil
	default:
		return Window{Kind: WindowLatest}, nil
	}
}

// WindowConfig is the per-document-kind time window a fetch loop is
// configured with (spec.md §4.I).
type WindowConfig struct {
	Kind WindowKind

	// Start/End are only consulted for WindowTimeRange.
	Start time.Time
	End   time.Time

	// FallbackStart is used the first time WindowSinceLast runs, before
	// any watermark has ever been recorded.
	FallbackStart time.Time
}
