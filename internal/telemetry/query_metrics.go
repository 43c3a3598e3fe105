// Package telemetry records which searches the knowledge base answers and
// how fast. All data stays in the local data directory.
package telemetry

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/kbindex/internal/lexical"
)

// Engine names the index a search ran against.
type Engine string

const (
	EngineTFIDF  Engine = "tfidf"  // lexical scores over whole documents
	EngineVector Engine = "vector" // cosine similarity over passages
)

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search.
type QueryEvent struct {
	Tool        string // MCP tool that ran the search
	Engine      Engine
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if this query returned no results.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // next write position
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer, oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// ExtractTerms returns the normalized words of query that are at least
// three runes long.
func ExtractTerms(query, lang string) []string {
	var terms []string
	for _, w := range lexical.Normalize(query, lang) {
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ToolCounts aggregates the searches of one tool.
type ToolCounts struct {
	Engine      Engine                  `json:"engine"`
	Queries     int64                   `json:"queries"`
	ZeroResults int64                   `json:"zero_results"`
	Results     int64                   `json:"results"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
}

func (c *ToolCounts) add(row SearchRow) {
	c.Queries += row.Queries
	c.ZeroResults += row.ZeroResults
	c.Results += row.Results
	if c.Latency == nil {
		c.Latency = make(map[LatencyBucket]int64)
	}
	c.Latency[row.Bucket] += row.Queries
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	Tenant            string                 `json:"tenant"`
	Tools             map[string]*ToolCounts `json:"tools"`
	TopTerms          []TermCount            `json:"top_terms"`
	ZeroResultQueries []string               `json:"zero_result_queries"`
	TotalQueries      int64                  `json:"total_queries"`
	ZeroResultCount   int64                  `json:"zero_result_count"`
	ExactRepeatCount  int64                  `json:"exact_repeat_count"`
	Since             time.Time              `json:"since"`

	// History holds the totals persisted by earlier flushes and runs.
	History *Totals `json:"history,omitempty"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// SearchRow is the searches of one tool that fell into one latency bucket
// on one day.
type SearchRow struct {
	Tool        string
	Engine      Engine
	Bucket      LatencyBucket
	Queries     int64
	ZeroResults int64
	Results     int64
}

// MissedQuery is a search that returned nothing.
type MissedQuery struct {
	Tool  string    `json:"tool"`
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// Batch is what one flush adds to the store.
type Batch struct {
	Tenant string
	Day    string // YYYY-MM-DD
	Rows   []SearchRow
	Terms  map[string]int64
	Missed []MissedQuery
}

func (b *Batch) empty() bool {
	return len(b.Rows) == 0 && len(b.Terms) == 0 && len(b.Missed) == 0
}

// Totals is what the store holds for a tenant.
type Totals struct {
	Since         string                 `json:"since"`
	Tools         map[string]*ToolCounts `json:"tools"`
	TopTerms      []TermCount            `json:"top_terms"`
	MissedQueries []MissedQuery          `json:"missed_queries"`
}

// Store persists flushed batches between runs.
type Store interface {
	// Append adds b to the stored totals.
	Append(ctx context.Context, b Batch) error

	// Totals sums what was stored for tenant from day since on. Top terms
	// and missed queries are limited to limit entries each.
	Totals(ctx context.Context, tenant, since string, limit int) (*Totals, error)

	// Close releases resources.
	Close() error
}

// Config configures the collector.
type Config struct {
	Tenant                string        // "org/id" the rows are stored under
	Lang                  string        // term normalization language
	TopTermsCapacity      int           // default: 100
	ZeroResultsCapacity   int           // default: 100
	RecentQueriesCapacity int           // window for repeat detection, default: 500
	FlushInterval         time.Duration // 0 disables the background flush
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tenant:                "default/default",
		Lang:                  lexical.DefaultLang,
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         time.Minute,
	}
}

type rowKey struct {
	tool   string
	engine Engine
	bucket LatencyBucket
}

// QueryMetrics aggregates QueryEvents in memory and periodically appends
// the searches gathered since the last flush to a Store. It is safe for
// concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	tools            map[string]*ToolCounts
	topTerms         *lru.Cache[string, int64]
	zeroResults      *CircularBuffer[string]
	totalQueries     int64
	zeroResultCount  int64
	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64
	startTime        time.Time

	// searches not yet written to the store
	pendingRows   map[rowKey]*SearchRow
	pendingTerms  map[string]int64
	pendingMissed []MissedQuery

	store  Store
	config Config
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
	closed bool
}

// New creates a collector. A nil store keeps metrics in memory only.
func New(store Store, cfg Config) *QueryMetrics {
	def := DefaultConfig()
	if cfg.Tenant == "" {
		cfg.Tenant = def.Tenant
	}
	if cfg.Lang == "" {
		cfg.Lang = def.Lang
	}
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = def.ZeroResultsCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		tools:         make(map[string]*ToolCounts),
		topTerms:      topTerms,
		zeroResults:   NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		pendingRows:   make(map[rowKey]*SearchRow),
		pendingTerms:  make(map[string]int64),
		store:         store,
		config:        cfg,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.doneCh)
	}
	return m
}

func (m *QueryMetrics) flushLoop(interval time.Duration) {
	defer close(m.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one search. Calls after Close are ignored.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	row := SearchRow{
		Tool:    event.Tool,
		Engine:  event.Engine,
		Bucket:  LatencyToBucket(event.Latency),
		Queries: 1,
		Results: int64(event.ResultCount),
	}
	if event.IsZeroResult() {
		row.ZeroResults = 1
	}

	tc, ok := m.tools[event.Tool]
	if !ok {
		tc = &ToolCounts{Engine: event.Engine}
		m.tools[event.Tool] = tc
	}
	tc.add(row)

	key := rowKey{tool: row.Tool, engine: row.Engine, bucket: row.Bucket}
	if pending, ok := m.pendingRows[key]; ok {
		pending.Queries++
		pending.ZeroResults += row.ZeroResults
		pending.Results += row.Results
	} else {
		m.pendingRows[key] = &row
	}
	m.totalQueries++

	for _, term := range ExtractTerms(event.Query, m.config.Lang) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		m.pendingMissed = append(m.pendingMissed, MissedQuery{Tool: event.Tool, Query: event.Query, At: event.Timestamp})
	}

	hash := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(hash); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(hash, struct{}{})
}

func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the metrics collected since New.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sortTerms(terms)

	tools := make(map[string]*ToolCounts, len(m.tools))
	for name, tc := range m.tools {
		cp := *tc
		cp.Latency = make(map[LatencyBucket]int64, len(tc.Latency))
		for b, n := range tc.Latency {
			cp.Latency[b] = n
		}
		tools[name] = &cp
	}

	return &Snapshot{
		Tenant:            m.config.Tenant,
		Tools:             tools,
		TopTerms:          terms,
		ZeroResultQueries: m.zeroResults.Items(),
		TotalQueries:      m.totalQueries,
		ZeroResultCount:   m.zeroResultCount,
		ExactRepeatCount:  m.exactRepeatCount,
		Since:             m.startTime,
	}
}

func sortTerms(terms []TermCount) {
	slices.SortFunc(terms, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})
}

// Report is Snapshot plus the stored totals of the last days days,
// including the searches that have not been flushed yet.
func (m *QueryMetrics) Report(ctx context.Context, days int) (*Snapshot, error) {
	snap := m.Snapshot()
	if m.store == nil {
		return snap, nil
	}
	if err := m.Flush(ctx); err != nil {
		return snap, err
	}
	since := m.now().AddDate(0, 0, -days).Format(time.DateOnly)
	totals, err := m.store.Totals(ctx, m.config.Tenant, since, m.config.TopTermsCapacity)
	if err != nil {
		return snap, err
	}
	snap.History = totals
	return snap, nil
}

// Flush appends the searches gathered since the previous flush to the
// store. On error they are kept for the next attempt.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	batch := Batch{
		Tenant: m.config.Tenant,
		Day:    m.now().Format(time.DateOnly),
		Terms:  m.pendingTerms,
		Missed: m.pendingMissed,
	}
	rows := m.pendingRows
	for _, r := range rows {
		batch.Rows = append(batch.Rows, *r)
	}
	m.pendingRows = make(map[rowKey]*SearchRow)
	m.pendingTerms = make(map[string]int64)
	m.pendingMissed = nil
	m.mu.Unlock()

	if batch.empty() {
		return nil
	}
	err := m.store.Append(ctx, batch)
	if err != nil {
		m.mu.Lock()
		for k, r := range rows {
			if pending, ok := m.pendingRows[k]; ok {
				pending.Queries += r.Queries
				pending.ZeroResults += r.ZeroResults
				pending.Results += r.Results
			} else {
				m.pendingRows[k] = r
			}
		}
		for k, v := range batch.Terms {
			m.pendingTerms[k] += v
		}
		m.pendingMissed = append(batch.Missed, m.pendingMissed...)
		m.mu.Unlock()
	}
	return err
}

// Close stops the background flush, flushes once more and closes the store.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	err := m.Flush(context.Background())
	if m.store != nil {
		if cerr := m.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
