package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/place-radar/internal/agent"
	"github.com/DeafMist/place-radar/internal/config"
	"github.com/DeafMist/place-radar/internal/dedupe"
	"github.com/DeafMist/place-radar/internal/models"
	"github.com/DeafMist/place-radar/internal/report"
)

const inlineEvent = `{
	"report_id": 30,
	"brand_name": "Event Brand",
	"created_at": "2024-01-02T15:04:05Z",
	"data": {
		"report": {"summary": {"meta": {"biz": "Cafe Onion", "keyword": "seongsu cafe"}}},
		"result": {
			"summary": {"meta": {"biz": "Cafe Onion", "keyword": "seongsu cafe"}, "my_store": {"rank_number": 4}},
			"keyword_analysis": {"related": ["#Brunch", "brunch", "bakery"]}
		}
	}
}`

type stubIndexer struct {
	docs []models.ReportDocument
	err  error
}

func (s *stubIndexer) IndexReport(_ context.Context, doc models.ReportDocument) error {
	if s.err != nil {
		return s.err
	}
	s.docs = append(s.docs, doc)
	return nil
}

type stubFetcher struct {
	docs  map[string]string
	calls int
}

func (s *stubFetcher) FetchReport(_ context.Context, reportID string) (*report.Node, error) {
	s.calls++
	raw, ok := s.docs[reportID]
	if !ok {
		return nil, &agent.RemoteError{Op: "GET /v1/report/" + reportID, StatusCode: 404}
	}
	return report.Parse([]byte(raw))
}

type stubWriter struct {
	fails int
	msgs  []kafka.Message
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if s.fails > 0 {
		s.fails--
		return errors.New("broker unavailable")
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func testSetup() (*slog.Logger, *dedupe.Cache, *config.Worker) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := dedupe.NewCache(100, time.Hour)
	cfg := &config.Worker{
		Common: config.Common{
			ElasticsearchAddr:  "http://test",
			ElasticsearchIndex: "place_reports",
		},
		TagLimit: 5,
	}
	return log, cache, cfg
}

func TestProcessMessageIndexesInlineReport(t *testing.T) {
	log, cache, cfg := testSetup()
	idx := &stubIndexer{}
	fetcher := &stubFetcher{}

	msg := kafka.Message{Value: []byte(inlineEvent)}
	require.NoError(t, processMessage(context.Background(), log, idx, fetcher, cache, cfg, msg))

	require.Len(t, idx.docs, 1)
	require.Zero(t, fetcher.calls)

	doc := idx.docs[0]
	require.NotEmpty(t, doc.ID)
	require.Equal(t, "30", doc.ReportID)
	require.Equal(t, "Cafe Onion", doc.BrandName)
	require.Equal(t, "seongsu cafe", doc.Keyword)
	require.Equal(t, report.StateReady, doc.State)
	require.True(t, time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC).Equal(doc.Timestamp))
	require.NotNil(t, doc.RankNumber)
	require.EqualValues(t, 4, *doc.RankNumber)
	require.Equal(t, []string{"brunch", "bakery"}, doc.Tags)
	require.Equal(t, []string{report.WrapperReport, report.WrapperResult}, doc.Conflicts)

	require.NoError(t, processMessage(context.Background(), log, idx, fetcher, cache, cfg, msg))
	require.Len(t, idx.docs, 1)
}

func TestProcessMessageFetchesMissingData(t *testing.T) {
	log, cache, cfg := testSetup()
	idx := &stubIndexer{}
	fetcher := &stubFetcher{docs: map[string]string{
		"31": `{"data": {"report": {"note": "no analytics yet"}}}`,
	}}

	msg := kafka.Message{Value: []byte(`{"report_id": "31", "brand_name": "Cafe Onion", "data": null}`)}
	require.NoError(t, processMessage(context.Background(), log, idx, fetcher, cache, cfg, msg))

	require.Equal(t, 1, fetcher.calls)
	require.Len(t, idx.docs, 1)
	require.Equal(t, report.StateNoSummary, idx.docs[0].State)
	require.Equal(t, "Cafe Onion", idx.docs[0].BrandName)
	require.Nil(t, idx.docs[0].Sections)
}

func TestProcessMessageEmptyReport(t *testing.T) {
	log, cache, cfg := testSetup()
	idx := &stubIndexer{}
	fetcher := &stubFetcher{docs: map[string]string{"32": `null`}}

	msg := kafka.Message{Value: []byte(`{"report_id": 32, "brand_name": "Cafe Onion"}`)}
	require.NoError(t, processMessage(context.Background(), log, idx, fetcher, cache, cfg, msg))

	require.Len(t, idx.docs, 1)
	require.Equal(t, report.StateNoReport, idx.docs[0].State)
}

func TestProcessMessageErrors(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		indexer *stubIndexer
		check   func(t *testing.T, err error)
	}{
		{
			name:  "invalid json",
			value: `{"report_id":`,
		},
		{
			name:  "empty event",
			value: `{"brand_name": "Cafe Onion"}`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, errEmptyEvent) },
		},
		{
			name:  "inline data too deep",
			value: `{"report_id": 1, "data": ` + strings.Repeat("[", 600) + strings.Repeat("]", 600) + `}`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, report.ErrTooDeep) },
		},
		{
			name:  "unknown report",
			value: `{"report_id": 404}`,
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, agent.ErrNotFound) },
		},
		{
			name:    "index failure",
			value:   inlineEvent,
			indexer: &stubIndexer{err: errors.New("es down")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, cache, cfg := testSetup()
			idx := tt.indexer
			if idx == nil {
				idx = &stubIndexer{}
			}

			err := processMessage(context.Background(), log, idx, &stubFetcher{}, cache, cfg, kafka.Message{Value: []byte(tt.value)})
			require.Error(t, err)
			if tt.check != nil {
				tt.check(t, err)
			}
			require.Empty(t, idx.docs)
			require.Zero(t, cache.Len())
		})
	}
}

func TestDeadLetterRetriesWithHeaders(t *testing.T) {
	log, _, _ := testSetup()
	w := &stubWriter{fails: 2}
	msg := kafka.Message{Partition: 3, Offset: 42, Value: []byte(`{}`)}

	ok := deadLetter(context.Background(), log, w, msg, errEmptyEvent, time.Millisecond)
	require.True(t, ok)
	require.Len(t, w.msgs, 1)

	headers := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "3", headers["original_partition"])
	require.Equal(t, "42", headers["original_offset"])
	require.Equal(t, errEmptyEvent.Error(), headers["error"])
	require.NotEmpty(t, headers["timestamp"])
}

func TestDeadLetterGivesUp(t *testing.T) {
	log, _, _ := testSetup()
	w := &stubWriter{fails: dlqAttempts}

	ok := deadLetter(context.Background(), log, w, kafka.Message{}, errEmptyEvent, time.Microsecond)
	require.False(t, ok)
	require.Empty(t, w.msgs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w = &stubWriter{fails: 1}
	require.False(t, deadLetter(ctx, log, w, kafka.Message{}, errEmptyEvent, time.Hour))
}

func TestParseTimestamp(t *testing.T) {
	ts := parseTimestamp("2024-02-03T04:05:06+09:00")
	require.False(t, ts.IsZero())
	require.Equal(t, time.UTC, ts.Location())
	require.Equal(t, 2024, ts.Year())
	require.Equal(t, 2, int(ts.Month()))
	require.Equal(t, 2, ts.Day())
	require.Equal(t, 19, ts.Hour())

	legacy := parseTimestamp("2024-02-03 04:05:06")
	require.False(t, legacy.IsZero())
	require.Equal(t, 3, legacy.Day())
	require.Equal(t, 4, legacy.Hour())

	naive := parseTimestamp("2024-02-03T04:05:06")
	require.Equal(t, 6, naive.Second())

	require.True(t, parseTimestamp("invalid").IsZero())
	require.True(t, parseTimestamp("  ").IsZero())
}

func TestProcessMessageReplayWithoutTimestamp(t *testing.T) {
	log, cache, cfg := testSetup()
	idx := &stubIndexer{}
	fetcher := &stubFetcher{docs: map[string]string{
		"33": `{"summary": {"meta": {"biz": "Cafe Onion"}}}`,
	}}

	for _, value := range []string{
		`{"report_id": 33, "brand_name": "Cafe Onion"}`,
		`{"report_id": 33, "brand_name": "Cafe Onion", "created_at": "not a time"}`,
	} {
		require.NoError(t, processMessage(context.Background(), log, idx, fetcher, cache, cfg, kafka.Message{Value: []byte(value)}))
	}

	require.Len(t, idx.docs, 1)
	require.Equal(t, 1, fetcher.calls)
	require.False(t, idx.docs[0].Timestamp.IsZero())
}

func TestReaderConfig(t *testing.T) {
	_, _, cfg := testSetup()
	cfg.KafkaBrokers = []string{"kafka:9092"}
	cfg.KafkaTopic = "report_events"
	cfg.KafkaConsumer = "report-indexer"
	cfg.BatchSize = 10
	cfg.CommitInterval = 2 * time.Second

	rc := readerConfig(cfg)
	require.Equal(t, []string{"kafka:9092"}, rc.Brokers)
	require.Equal(t, "report-indexer", rc.GroupID)
	require.Equal(t, 10, rc.QueueCapacity)
	require.Equal(t, 2*time.Second, rc.CommitInterval)
}
