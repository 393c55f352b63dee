// Package ingest implements ArchiveIngestor (C5) and RealtimeIngestor (C6):
// the two entry points that turn a raw log source into persisted
// Tracebacks and ApiCalls via LineParser, TracebackAssembler,
// ApiCallExtractor and ProfileNameEnricher.
//
// Grounded on original_source/src/lib/parser/s3.py (the download,
// gzip-decompress, line-by-line ingest loop and its EOFError retry) and
// original_source/src/lib/papertrail/realtime_updater.py (the up-to-10
// exponential-backoff CLI invocation window).
package ingest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/ingestpipeline/apicall"
	"github.com/paperwatch/traceline/internal/ingestpipeline/assembler"
	"github.com/paperwatch/traceline/internal/ingestpipeline/enrich"
	"github.com/paperwatch/traceline/internal/ingestpipeline/lineparser"
	"github.com/paperwatch/traceline/internal/ports"
	"github.com/paperwatch/traceline/pkg/retry"
)

// Store is the subset of internal/store.Store ingest needs.
type Store interface {
	SaveTraceback(ctx context.Context, t domain.Traceback) error
	BulkSaveApiCalls(ctx context.Context, calls []domain.ApiCall) error
}

// ArchiveIngestor implements C5: download one S3 archive, assemble
// tracebacks and api calls from it, and persist both.
type ArchiveIngestor struct {
	objects ports.ObjectStorage
	store   Store
	extract *apicall.Extractor
	logger  *logrus.Logger
}

func NewArchiveIngestor(objects ports.ObjectStorage, store Store, extract *apicall.Extractor, logger *logrus.Logger) *ArchiveIngestor {
	if extract == nil {
		extract = apicall.New(nil)
	}
	return &ArchiveIngestor{objects: objects, store: store, extract: extract, logger: logger}
}

// IngestArchive downloads bucket/key, gzip-decompresses it, and walks it
// line by line, assembling tracebacks and extracting api calls. Per
// spec.md §4.5, a 403/404 from the object store is normal control flow,
// not a failure: it's logged as a warning (403 additionally logs the
// "system clock may be out of date" guidance) and IngestArchive returns
// nil rather than propagating the error.
//
// Per spec.md §4.11, a truncated gzip stream (io.ErrUnexpectedEOF) is
// retried against a fresh download, up to 3 attempts in all, since a
// mid-upload read is the one failure mode that self-heals on retry.
func (a *ArchiveIngestor) IngestArchive(ctx context.Context, bucket, key string) error {
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: 3,
		IsRetryable: func(err error) bool { return err == io.ErrUnexpectedEOF || domain.IsRetryable(err) },
	}, func(ctx context.Context) error {
		return a.ingestOnce(ctx, bucket, key)
	})
	if err == nil {
		return nil
	}

	switch domain.KindOf(err) {
	case domain.KindNotFound:
		if a.logger != nil {
			a.logger.WithFields(logrus.Fields{"bucket": bucket, "key": key}).
				Warn("ingest: archive object not found")
		}
		return nil
	case domain.KindAuthz:
		if a.logger != nil {
			a.logger.WithFields(logrus.Fields{"bucket": bucket, "key": key}).
				Warn("ingest: archive object forbidden; system clock may be out of date")
		}
		return nil
	default:
		return err
	}
}

func (a *ArchiveIngestor) ingestOnce(ctx context.Context, bucket, key string) error {
	body, err := a.objects.Download(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return domain.E("ArchiveIngestor.IngestArchive", domain.KindPermanentInput, err)
	}
	defer gz.Close()

	asm := assembler.New()
	var apiCalls []domain.ApiCall
	malformed := 0

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line, err := lineparser.ParseArchiveLine(scanner.Text())
		if err != nil {
			malformed++
			continue
		}

		if tb, ok := asm.Process(line); ok {
			tb = enrich.Enrich(tb)
			if err := a.store.SaveTraceback(ctx, tb); err != nil {
				return err
			}
		}
		if call, ok := a.extract.Extract(line); ok {
			apiCalls = append(apiCalls, call)
		}
	}
	if err := scanner.Err(); err != nil {
		if err == io.ErrUnexpectedEOF {
			return err
		}
		return domain.E("ArchiveIngestor.IngestArchive", domain.KindTransient, err)
	}

	if len(apiCalls) > 0 {
		if err := a.store.BulkSaveApiCalls(ctx, apiCalls); err != nil {
			return err
		}
	}

	if malformed > 0 && a.logger != nil {
		a.logger.WithFields(logrus.Fields{"bucket": bucket, "key": key, "malformed_lines": malformed}).
			Warn("ingest: skipped malformed archive lines")
	}
	return nil
}

// RealtimeIngestor implements C6: the one-minute realtime tail used while
// no S3 archive exists yet for the current hour.
type RealtimeIngestor struct {
	cli     ports.PapertrailCLI
	store   Store
	extract *apicall.Extractor
	logger  *logrus.Logger
}

func NewRealtimeIngestor(cli ports.PapertrailCLI, store Store, extract *apicall.Extractor, logger *logrus.Logger) *RealtimeIngestor {
	if extract == nil {
		extract = apicall.New(nil)
	}
	return &RealtimeIngestor{cli: cli, store: store, extract: extract, logger: logger}
}

// Window computes the [minTime, maxTime] CLI query window for endTime: one
// minute back, trimmed to avoid re-requesting the in-flight second, per
// spec.md §4.6.
func Window(endTime time.Time) (time.Time, time.Time) {
	if endTime.IsZero() {
		endTime = time.Now().In(lineparser.DisplayZone)
	}
	return endTime.Add(-1 * time.Minute), endTime.Add(-1 * time.Second)
}

// Run drives the CLI for [minTime, maxTime], making up to 10 attempts with
// 2^i second backoff on transient failure (spec.md §4.6), parsing each JSON
// line and feeding it through the same assembler/extractor pipeline as
// ArchiveIngestor.
func (r *RealtimeIngestor) Run(ctx context.Context, minTime, maxTime time.Time) error {
	var body io.ReadCloser
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: 10,
		Backoff:     exponentialSeconds(10),
		IsRetryable: func(error) bool { return true },
	}, func(ctx context.Context) error {
		b, err := r.cli.Run(ctx, minTime, maxTime)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return err
	}
	defer body.Close()

	asm := assembler.New()
	var apiCalls []domain.ApiCall

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		line, err := lineparser.ParseJSONEvent(raw)
		if err != nil {
			if r.logger != nil {
				r.logger.WithError(err).Warn("realtime ingest: skipped malformed event")
			}
			continue
		}
		if tb, ok := asm.Process(line); ok {
			tb = enrich.Enrich(tb)
			if err := r.store.SaveTraceback(ctx, tb); err != nil {
				return err
			}
		}
		if call, ok := r.extract.Extract(line); ok {
			apiCalls = append(apiCalls, call)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.E("RealtimeIngestor.Run", domain.KindTransient, err)
	}

	if len(apiCalls) > 0 {
		return r.store.BulkSaveApiCalls(ctx, apiCalls)
	}
	return nil
}

func exponentialSeconds(n int) []time.Duration {
	out := make([]time.Duration, n)
	d := time.Second
	for i := range out {
		out[i] = d
		d *= 2
	}
	return out
}
