// Package store implements Store (C7): indexed, queryable persistence for
// Tracebacks, ApiCalls and Tickets, backed by embedded bleve indexes, plus
// TextMatcher (C8)'s two match levels used by every phrase-query read path.
//
// Grounded on the teacher's pkg/bichat/kb bleve_test.go (NewBleveIndex,
// IndexDocument/Search shape) generalized from a single knowledge-base
// index into three index families (traceback, jira, month-partitioned
// apicall) and from free-text search into the spec's EXACT/SIMILAR phrase
// matching.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sirupsen/logrus"

	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/pkg/cache"
	"github.com/paperwatch/traceline/pkg/cachekey"
	"github.com/paperwatch/traceline/pkg/retry"
)

const (
	DefaultTracebackLimit = 100
	MaxLimit              = 10_000
)

// MatchLevel is TextMatcher's (C8) match strictness. Exactly two levels
// exist; any other value is rejected by callers.
type MatchLevel string

const (
	MatchExact   MatchLevel = "EXACT"
	MatchSimilar MatchLevel = "SIMILAR"
)

func (m MatchLevel) Valid() bool { return m == MatchExact || m == MatchSimilar }

// phraseText applies SIMILAR's "drop the last whitespace-delimited token"
// rule; EXACT uses the text unchanged.
func phraseText(text string, level MatchLevel) string {
	if level != MatchSimilar {
		return text
	}
	fields := strings.Fields(text)
	if len(fields) <= 1 {
		return text
	}
	return strings.Join(fields[:len(fields)-1], " ")
}

// buildPhraseQuery builds a disjunction of match-phrase queries across
// fields, the two-level query described in spec.md §4.8.
func buildPhraseQuery(fields []string, text string, level MatchLevel) query.Query {
	phrase := phraseText(text, level)
	qs := make([]query.Query, len(fields))
	for i, f := range fields {
		mq := bleve.NewMatchPhraseQuery(phrase)
		mq.SetField(f)
		qs[i] = mq
	}
	return bleve.NewDisjunctionQuery(qs...)
}

// resultCache is the narrow slice of cache.RedisCoordinator/NullCoordinator
// Store actually needs: Go interfaces can't carry generic methods, so this
// wraps the generic cache.Get/cache.GetNull calls behind two concrete,
// result-typed methods.
type resultCache interface {
	Tracebacks(ctx context.Context, key string, build func(context.Context) ([]domain.Traceback, error)) ([]domain.Traceback, error)
	Tickets(ctx context.Context, key string, build func(context.Context) ([]domain.Ticket, error)) ([]domain.Ticket, error)
	Invalidate(ctx context.Context, region cache.Region) error
}

type redisResultCache struct{ c *cache.RedisCoordinator }

func (r redisResultCache) Tracebacks(ctx context.Context, key string, build func(context.Context) ([]domain.Traceback, error)) ([]domain.Traceback, error) {
	return cache.Get(ctx, r.c, cache.RegionTraceback, key, build)
}
func (r redisResultCache) Tickets(ctx context.Context, key string, build func(context.Context) ([]domain.Ticket, error)) ([]domain.Ticket, error) {
	return cache.Get(ctx, r.c, cache.RegionJira, key, build)
}
func (r redisResultCache) Invalidate(ctx context.Context, region cache.Region) error {
	return r.c.Invalidate(ctx, region)
}

// NewRedisResultCache adapts a live cache.RedisCoordinator for Store.
func NewRedisResultCache(c *cache.RedisCoordinator) resultCache { return redisResultCache{c: c} }

type nullResultCache struct{}

func (nullResultCache) Tracebacks(ctx context.Context, _ string, build func(context.Context) ([]domain.Traceback, error)) ([]domain.Traceback, error) {
	return build(ctx)
}
func (nullResultCache) Tickets(ctx context.Context, _ string, build func(context.Context) ([]domain.Ticket, error)) ([]domain.Ticket, error) {
	return build(ctx)
}
func (nullResultCache) Invalidate(context.Context, cache.Region) error { return nil }

// NewNullResultCache is the USE_DOGPILE_CACHE=false variant: every read
// rebuilds, every invalidate is a no-op.
func NewNullResultCache() resultCache { return nullResultCache{} }

// Store is the bleve-backed implementation of C7.
type Store struct {
	dir            string
	logger         *logrus.Logger
	cache          resultCache
	warnedMissing  map[string]bool
	mu             sync.RWMutex
	tracebackIndex bleve.Index
	jiraIndex      bleve.Index
	apiCallIndexes map[string]bleve.Index
}

// Open builds or opens the traceback and jira indexes under dir. Month
// partitions for ApiCalls are opened lazily as data arrives.
func Open(dir string, logger *logrus.Logger, resultCache resultCache) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create index dir: %w", err)
	}
	tb, err := openOrCreateIndex(filepath.Join(dir, "traceback-index.bleve"))
	if err != nil {
		return nil, err
	}
	jira, err := openOrCreateIndex(filepath.Join(dir, "jira-issue-index.bleve"))
	if err != nil {
		return nil, err
	}
	return &Store{
		dir:            dir,
		logger:         logger,
		cache:          resultCache,
		warnedMissing:  make(map[string]bool),
		tracebackIndex: tb,
		jiraIndex:      jira,
		apiCallIndexes: make(map[string]bleve.Index),
	}, nil
}

func openOrCreateIndex(path string) (bleve.Index, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return idx, nil
	}
	idx, err = bleve.New(path, bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("store: create index %s: %w", path, err)
	}
	return idx, nil
}

// OpenInMemory builds a Store backed by in-memory bleve indexes, used by
// tests and by single-node deployments that don't need index durability
// across restarts.
func OpenInMemory(logger *logrus.Logger, resultCache resultCache) (*Store, error) {
	tb, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("store: create in-memory traceback index: %w", err)
	}
	jira, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("store: create in-memory jira index: %w", err)
	}
	return &Store{
		logger:         logger,
		cache:          resultCache,
		warnedMissing:  make(map[string]bool),
		tracebackIndex: tb,
		jiraIndex:      jira,
		apiCallIndexes: make(map[string]bleve.Index),
	}, nil
}

func (s *Store) apiCallIndex(partition string) (bleve.Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.apiCallIndexes[partition]; ok {
		return idx, nil
	}
	var idx bleve.Index
	var err error
	if s.dir == "" {
		idx, err = bleve.NewMemOnly(bleve.NewIndexMapping())
	} else {
		idx, err = openOrCreateIndex(filepath.Join(s.dir, fmt.Sprintf("api-call-%s.bleve", partition)))
	}
	if err != nil {
		return nil, err
	}
	s.apiCallIndexes[partition] = idx
	return idx, nil
}

// SaveTraceback upserts t by origin_id, retries transport timeouts, and
// invalidates the traceback cache region.
func (s *Store) SaveTraceback(ctx context.Context, t domain.Traceback) error {
	err := retry.Do(ctx, retry.Policy{MaxAttempts: 3, IsRetryable: domain.IsRetryable}, func(ctx context.Context) error {
		if err := s.tracebackIndex.Index(t.OriginID, t); err != nil {
			return domain.E("Store.SaveTraceback", domain.KindTransient, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cache.RegionTraceback)
}

// GetTraceback is a point read by origin_id.
func (s *Store) GetTraceback(ctx context.Context, id string) (domain.Traceback, bool, error) {
	doc, err := s.tracebackIndex.Document(id)
	if err != nil {
		return domain.Traceback{}, false, domain.E("Store.GetTraceback", domain.KindTransient, err)
	}
	if doc == nil {
		return domain.Traceback{}, false, nil
	}
	return tracebackFromDoc(doc), true, nil
}

// GetTracebacks returns tracebacks whose origin_timestamp falls within
// [startDate, endDate], both bounds inclusive and compared as instants;
// the bounds are not widened to whole calendar days. Results are sorted
// descending by origin_timestamp, capped at limit, and cached by argument
// tuple.
func (s *Store) GetTracebacks(ctx context.Context, startDate, endDate *time.Time, limit int) ([]domain.Traceback, error) {
	limit = clampLimit(limit)
	key := cachekey.Build("get_tracebacks", startDate, endDate, limit)
	return s.cache.Tracebacks(ctx, key, func(ctx context.Context) ([]domain.Traceback, error) {
		q := dateRangeQuery(startDate, endDate)
		return s.searchTracebacks(q, limit)
	})
}

// GetMatchingTracebacks runs a TextMatcher phrase query against
// traceback_text, sorted descending by origin_timestamp, cached.
func (s *Store) GetMatchingTracebacks(ctx context.Context, text string, level MatchLevel, limit int) ([]domain.Traceback, error) {
	if !level.Valid() {
		return nil, domain.E("Store.GetMatchingTracebacks", domain.KindInvariant, fmt.Errorf("unknown match_level %q", level))
	}
	limit = clampLimit(limit)
	key := cachekey.Build("get_matching_tracebacks", text, level, limit)
	return s.cache.Tracebacks(ctx, key, func(ctx context.Context) ([]domain.Traceback, error) {
		q := buildPhraseQuery([]string{"TracebackText"}, text, level)
		return s.searchTracebacks(q, limit)
	})
}

func (s *Store) searchTracebacks(q query.Query, limit int) ([]domain.Traceback, error) {
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}
	req.SortBy([]string{"-OriginTime"})
	res, err := s.tracebackIndex.Search(req)
	if err != nil {
		return nil, domain.E("Store.searchTracebacks", domain.KindTransient, err)
	}
	out := make([]domain.Traceback, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, tracebackFromFields(hit.ID, hit.Fields))
	}
	return out, nil
}

// BulkSaveApiCalls groups calls by (year, month) and writes each group to
// its monthly partition.
func (s *Store) BulkSaveApiCalls(ctx context.Context, calls []domain.ApiCall) error {
	byPartition := make(map[string][]domain.ApiCall)
	for _, c := range calls {
		byPartition[c.Partition()] = append(byPartition[c.Partition()], c)
	}
	for partition, group := range byPartition {
		idx, err := s.apiCallIndex(partition)
		if err != nil {
			return err
		}
		err = retry.Do(ctx, retry.Policy{MaxAttempts: 3, IsRetryable: domain.IsRetryable}, func(ctx context.Context) error {
			batch := idx.NewBatch()
			for _, c := range group {
				if err := batch.Index(c.PapertrailID, c); err != nil {
					return domain.E("Store.BulkSaveApiCalls", domain.KindTransient, err)
				}
			}
			if err := idx.Batch(batch); err != nil {
				return domain.E("Store.BulkSaveApiCalls", domain.KindTransient, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SaveTicket upserts tk by key, invalidating the jira cache region.
func (s *Store) SaveTicket(ctx context.Context, tk domain.Ticket) error {
	err := retry.Do(ctx, retry.Policy{MaxAttempts: 3, IsRetryable: domain.IsRetryable}, func(ctx context.Context) error {
		if err := s.jiraIndex.Index(tk.Key, tk); err != nil {
			return domain.E("Store.SaveTicket", domain.KindTransient, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, cache.RegionJira)
}

// RemoveTicket deletes by key; a missing key is treated as success.
func (s *Store) RemoveTicket(ctx context.Context, key string) error {
	if err := s.jiraIndex.Delete(key); err != nil {
		return domain.E("Store.RemoveTicket", domain.KindTransient, err)
	}
	return s.cache.Invalidate(ctx, cache.RegionJira)
}

// GetMatchingTickets runs a phrase match against description_filtered and
// comments_filtered, cached.
func (s *Store) GetMatchingTickets(ctx context.Context, text string, level MatchLevel) ([]domain.Ticket, error) {
	if !level.Valid() {
		return nil, domain.E("Store.GetMatchingTickets", domain.KindInvariant, fmt.Errorf("unknown match_level %q", level))
	}
	key := cachekey.Build("get_matching_tickets", text, level)
	return s.cache.Tickets(ctx, key, func(ctx context.Context) ([]domain.Ticket, error) {
		q := buildPhraseQuery([]string{"DescriptionFiltered", "CommentsFiltered"}, text, level)
		return s.searchTickets(q, 0)
	})
}

// SearchTickets is relevance-ranked full text search with key and summary
// boosted, used for the NotificationDispatcher type-ahead data source.
func (s *Store) SearchTickets(ctx context.Context, phrase string, limit int) ([]domain.Ticket, error) {
	keyQ := bleve.NewMatchQuery(phrase)
	keyQ.SetField("Key")
	keyQ.SetBoost(3)
	summaryQ := bleve.NewMatchQuery(phrase)
	summaryQ.SetField("Summary")
	summaryQ.SetBoost(2)
	bodyQ := bleve.NewMatchQuery(phrase)
	bodyQ.SetField("Description")

	q := bleve.NewDisjunctionQuery(keyQ, summaryQ, bodyQ)
	return s.searchTickets(q, limit)
}

func (s *Store) searchTickets(q query.Query, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}
	res, err := s.jiraIndex.Search(req)
	if err != nil {
		return nil, domain.E("Store.searchTickets", domain.KindTransient, err)
	}
	out := make([]domain.Ticket, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, ticketFromFields(hit.ID, hit.Fields))
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultTracebackLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func dateRangeQuery(start, end *time.Time) query.Query {
	if start == nil && end == nil {
		return bleve.NewMatchAllQuery()
	}
	inclusiveStart, inclusiveEnd := true, true
	q := bleve.NewDateRangeInclusiveQuery(derefTime(start), derefTime(end), &inclusiveStart, &inclusiveEnd)
	q.SetField("OriginTime")
	return q
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
