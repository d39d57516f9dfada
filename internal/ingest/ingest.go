// Package ingest implements the fetch & ingest loop of spec.md §4.I: a
// scheduler that, on a configurable frequency, downloads each configured
// document kind for its configured time window, unpacks the archive, and
// classifies each parsed entry.
//
// A single producer goroutine (the scheduler) feeds a bounded channel of
// work items consumed by a fixed pool of workers, with per-item error
// isolation so one bad entry never stalls the batch.
package ingest

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/paynet/nexus/internal/ebics/catalog"
	"github.com/paynet/nexus/internal/ebics/transport"
	"github.com/paynet/nexus/internal/isomsg"
	"github.com/paynet/nexus/internal/nexusconfig"
	"github.com/paynet/nexus/internal/reconcile"
	"github.com/paynet/nexus/internal/store"
)

// DocumentWindow pairs the document kind a fetch cycle downloads with the
// time window it is requested under.
type DocumentWindow struct {
	Kind   catalog.DocumentKind
	Window WindowConfig
}

// Loop drives the fetch & ingest cycle for one subscriber over a fixed
// set of document kinds, per spec.md §4.I.
type Loop struct {
	Store    *store.Store
	Client   *transport.Client
	Keys     transport.KeyMaterial
	Identity transport.SubscriberIdentity
	Account  nexusconfig.Account
	Dialect  nexusconfig.Dialect
	Engine   *reconcile.Engine
	Lock     *AdvisoryLock
	Logger   *zap.Logger

	// Documents lists every (kind, window) pair one tick fetches.
	Documents []DocumentWindow

	// Workers bounds the ZIP-member processing pool.
	Workers int
}

// downloadResult is one scheduled download's outcome, fanned into the
// worker pool for unpacking and classification.
type downloadResult struct {
	kind    catalog.DocumentKind
	payload []byte
}

// Run ticks RunOnce every frequency until ctx is cancelled, logging (but
// not aborting on) a failed cycle so one bad tick never stops the loop.
func (l *Loop) Run(ctx context.Context, frequency time.Duration) {
	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.Logger.Warn("fetch cycle failed", zap.Error(err))
			}
		}
	}
}

// RunOnce executes a single fetch cycle: resolve each document kind's
// order and window, download it, and fan every successful payload into a
// bounded worker pool for unpacking and classification. Per spec.md §4.I
// step 4, a failure classifying one entry never aborts the cycle.
func (l *Loop) RunOnce(ctx context.Context) error {
	if l.Lock != nil {
		if err := l.Lock.Acquire(ctx, l.Account.IBAN); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		defer l.Lock.Release(ctx, l.Account.IBAN)
	}

	now := time.Now().UTC()
	work := make(chan downloadResult, len(l.Documents))

	for _, dw := range l.Documents {
		result, err := l.downloadOne(ctx, dw, now)
		if err != nil {
			l.Logger.Warn("fetch failed, continuing to next document kind",
				zap.Int("document_kind", int(dw.Kind)), zap.Error(err))
			continue
		}
		if result == nil {
			continue
		}
		work <- *result
	}
	close(work)

	workers := l.Workers
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				l.processArchive(ctx, item)
			}
		}()
	}
	wg.Wait()

	return nil
}

// downloadOne resolves dw's order and window, then invokes §4.F download.
// An Empty outcome is a normal "nothing new" result, not an error.
func (l *Loop) downloadOne(ctx context.Context, dw DocumentWindow, now time.Time) (*downloadResult, error) {
	version := dialectVersion(l.Dialect)
	order, err := catalog.Resolve(l.Dialect, dw.Kind, version)
	if err != nil {
		return nil, err
	}

	window, err := resolveWindow(ctx, l.Store, dw.Kind, dw.Window, now)
	if err != nil {
		return nil, fmt.Errorf("resolve window: %w", err)
	}

	dateRange := transport.DateRange{}
	if window.Kind != WindowLatest {
		dateRange = transport.DateRange{Start: window.Start, End: window.End}
	}

	result, err := transport.Download(ctx, l.Client, l.Identity, l.Keys, order, dateRange)
	if err != nil {
		return nil, err
	}
	if result.Outcome != transport.DownloadDone {
		return nil, nil
	}

	if window.Kind == WindowSinceLast {
		if err := l.Store.SetLastExecTime(ctx, dw.Kind, now); err != nil {
			return nil, fmt.Errorf("advance watermark: %w", err)
		}
	}
	return &downloadResult{kind: dw.Kind, payload: result.Payload}, nil
}

// processArchive unpacks a ZIP payload and classifies every booked entry
// in every member, isolating failures per spec.md §4.I step 4: an error
// on one entry is logged with its bank identifier and does not prevent
// the rest of the archive from being processed.
func (l *Loop) processArchive(ctx context.Context, dl downloadResult) {
	reader, err := zip.NewReader(bytes.NewReader(dl.payload), int64(len(dl.payload)))
	if err != nil {
		l.Logger.Error("ingest: not a valid ZIP archive", zap.Int("document_kind", int(dl.kind)), zap.Error(err))
		return
	}

	for _, member := range reader.File {
		if err := l.processMember(ctx, member); err != nil {
			l.Logger.Error("ingest: failed to process archive member",
				zap.String("member", member.Name), zap.Error(err))
		}
	}
}

func (l *Loop) processMember(ctx context.Context, member *zip.File) error {
	f, err := member.Open()
	if err != nil {
		return fmt.Errorf("open member: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read member: %w", err)
	}

	entries, err := bookedEntries(data)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := l.Engine.ClassifyAndStoreEntry(ctx, entry); err != nil {
			l.Logger.Error("ingest: failed to classify entry",
				zap.String("bank_reference", entry.BankReference()), zap.Error(err))
		}
	}
	return nil
}

// bookedEntries parses a camt.05x document and flattens every booked
// entry across its statements, reports, and notifications, in the order
// the document lists them (spec.md §4.H: "cross-entry ordering is never
// assumed to be chronological").
func bookedEntries(data []byte) ([]isomsg.Entry, error) {
	var doc isomsg.CamtDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse camt document: %w", err)
	}

	statements := doc.Stmt
	statements = append(statements, doc.Rpt...)
	statements = append(statements, doc.Ntfctn...)

	var entries []isomsg.Entry
	for _, stmt := range statements {
		entries = append(entries, stmt.BookedEntries()...)
	}
	return entries, nil
}

func dialectVersion(d nexusconfig.Dialect) catalog.Version {
	if d == nexusconfig.DialectGLS {
		return catalog.H005
	}
	return catalog.H004
}
