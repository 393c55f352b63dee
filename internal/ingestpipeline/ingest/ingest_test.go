package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwatch/traceline/internal/domain"
)

type fakeObjectStorage struct {
	body []byte
	err  error
}

func (f *fakeObjectStorage) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

type fakeStore struct {
	tracebacks []domain.Traceback
	apiCalls   []domain.ApiCall
}

func (f *fakeStore) SaveTraceback(ctx context.Context, t domain.Traceback) error {
	f.tracebacks = append(f.tracebacks, t)
	return nil
}

func (f *fakeStore) BulkSaveApiCalls(ctx context.Context, calls []domain.ApiCall) error {
	f.apiCalls = append(f.apiCalls, calls...)
	return nil
}

func gzipOf(lines ...string) []byte {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	for _, l := range lines {
		_, _ = gz.Write([]byte(l + "\n"))
	}
	_ = gz.Close()
	return buf.Bytes()
}

func archiveLine(id, ts, instanceID, program, message string) string {
	fields := []string{id, ts, ts, "src-1", instanceID, "10.0.0.1", "user", "info", program, message}
	out := fields[0]
	for _, f := range fields[1:] {
		out += "\t" + f
	}
	return out
}

func TestIngestArchive_AssemblesAndSavesTraceback(t *testing.T) {
	ts := "2024-05-01T12:00:00Z"
	markerLine := archiveLine("700594297938165773", ts, "i-a", "manager.debug", domain.TracebackMarker)
	line := archiveLine("700594297938165774", ts, "i-a", "manager.debug", "ValueError: boom")
	objects := &fakeObjectStorage{body: gzipOf(markerLine + "\n" + line)}
	store := &fakeStore{}
	ing := NewArchiveIngestor(objects, store, nil, nil)

	require.NoError(t, ing.IngestArchive(t.Context(), "bucket", "key.tsv.gz"))
	require.Len(t, store.tracebacks, 1)
	assert.Equal(t, "700594297938165774", store.tracebacks[0].OriginID)
}

func TestIngestArchive_NotFoundIsNormalControlFlowNotError(t *testing.T) {
	objects := &fakeObjectStorage{err: domain.E("s3store.Download", domain.KindNotFound, assertErr("missing"))}
	store := &fakeStore{}
	ing := NewArchiveIngestor(objects, store, nil, nil)

	require.NoError(t, ing.IngestArchive(t.Context(), "bucket", "missing.tsv.gz"))
	assert.Empty(t, store.tracebacks)
}

func TestIngestArchive_ForbiddenIsNormalControlFlowNotError(t *testing.T) {
	objects := &fakeObjectStorage{err: domain.E("s3store.Download", domain.KindAuthz, assertErr("forbidden"))}
	store := &fakeStore{}
	ing := NewArchiveIngestor(objects, store, nil, nil)

	require.NoError(t, ing.IngestArchive(t.Context(), "bucket", "forbidden.tsv.gz"))
	assert.Empty(t, store.tracebacks)
}

func TestIngestArchive_ExtractsApiCalls(t *testing.T) {
	line := archiveLine("1", "2024-05-01T12:00:00Z", "i-a", "manager.debug",
		"123/abc#jdoe api call get_thing (GET) took 42 milliseconds to complete")
	objects := &fakeObjectStorage{body: gzipOf(line)}
	store := &fakeStore{}
	ing := NewArchiveIngestor(objects, store, nil, nil)

	require.NoError(t, ing.IngestArchive(t.Context(), "bucket", "key.tsv.gz"))
	require.Len(t, store.apiCalls, 1)
}

func TestIngestArchive_MalformedLinesAreSkippedNotFatal(t *testing.T) {
	body := gzipOf("not\tenough\tfields")
	objects := &fakeObjectStorage{body: body}
	store := &fakeStore{}
	ing := NewArchiveIngestor(objects, store, nil, nil)

	require.NoError(t, ing.IngestArchive(t.Context(), "bucket", "key.tsv.gz"))
	assert.Empty(t, store.tracebacks)
}

type fakeCLI struct {
	body []byte
	err  error
}

func (f *fakeCLI) Run(ctx context.Context, minTime, maxTime time.Time) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

func TestWindow_IsOneMinuteBackTrimmedBySecond(t *testing.T) {
	end := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	min, max := Window(end)
	assert.Equal(t, end.Add(-1*time.Minute), min)
	assert.Equal(t, end.Add(-1*time.Second), max)
}

func TestRealtimeIngestor_Run_ParsesJSONLines(t *testing.T) {
	event := `{"id":"1","generated_at":"2024-05-01T12:00:00Z","source_name":"i-a","program":"manager.debug","message":"` +
		domain.TracebackMarker + `\nValueError: boom"}`
	cli := &fakeCLI{body: []byte(event + "\n")}
	store := &fakeStore{}
	ing := NewRealtimeIngestor(cli, store, nil, nil)

	require.NoError(t, ing.Run(t.Context(), time.Now(), time.Now()))
	require.Len(t, store.tracebacks, 1)
	assert.Equal(t, "1", store.tracebacks[0].OriginID)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
