package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/place-radar/internal/agent"
	"github.com/DeafMist/place-radar/internal/config"
	"github.com/DeafMist/place-radar/internal/dedupe"
	"github.com/DeafMist/place-radar/internal/elasticsearch"
	"github.com/DeafMist/place-radar/internal/logger"
	"github.com/DeafMist/place-radar/internal/models"
	"github.com/DeafMist/place-radar/internal/processing"
	"github.com/DeafMist/place-radar/internal/report"
)

const dlqAttempts = 5

var errEmptyEvent = errors.New("event has neither report_id nor data")

// rawEvent is published when the agent finishes a report. Data carries the
// raw document inline; without it the report is fetched from the agent.
type rawEvent struct {
	ReportID  agent.ID        `json:"report_id"`
	BrandName string          `json:"brand_name"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type reportIndexer interface {
	IndexReport(ctx context.Context, doc models.ReportDocument) error
}

type reportFetcher interface {
	FetchReport(ctx context.Context, reportID string) (*report.Node, error)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func main() {
	log := logger.New("worker")
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	agentClient, err := agent.New(cfg.AgentBaseURL, agent.Options{
		Timeout:  cfg.AgentTimeout,
		RetryMax: cfg.AgentRetryMax,
	}, log)
	if err != nil {
		log.Error("init agent client", slog.Any("err", err))
		os.Exit(1)
	}

	cache := dedupe.NewCache(cfg.DedupeCapacity, cfg.DedupeTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reader := kafka.NewReader(readerConfig(cfg))
	defer reader.Close()

	dlqTopic := cfg.KafkaTopic + "_dlq"
	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       dlqTopic,
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("worker started",
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaConsumer),
		slog.String("dlq_topic", dlqTopic),
		slog.String("agent", cfg.AgentBaseURL),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, agentClient, cache, cfg, msg); err != nil {
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)

			if ctx.Err() != nil {
				log.Info("context canceled, leaving message uncommitted")
				return
			}

			// Commit only once the DLQ has the message; otherwise it is
			// reprocessed after a restart.
			if !deadLetter(ctx, log, dlqWriter, msg, err, time.Second) {
				log.Error("DLQ write exhausted retries, message may be lost if later messages commit",
					slog.Int("partition", msg.Partition),
					slog.Int64("offset", msg.Offset),
				)
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// readerConfig builds the consumer settings. Offsets are only committed
// through CommitMessages; a non-zero CommitInterval batches those commits.
func readerConfig(cfg *config.Worker) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		Topic:          cfg.KafkaTopic,
		GroupID:        cfg.KafkaConsumer,
		QueueCapacity:  cfg.BatchSize,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		CommitInterval: cfg.CommitInterval,
	}
}

// deadLetter copies msg to the DLQ with the failure attached as headers,
// retrying with exponential backoff from base. It reports whether the write
// succeeded.
func deadLetter(ctx context.Context, log *slog.Logger, w messageWriter, msg kafka.Message, cause error, base time.Duration) bool {
	headers := make([]kafka.Header, 0, len(msg.Headers)+4)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
		kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
		kafka.Header{Key: "error", Value: []byte(cause.Error())},
		kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
	)
	dlqMsg := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}

	for attempt := range dlqAttempts {
		dlqErr := w.WriteMessages(ctx, dlqMsg)
		if dlqErr == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}

		backoff := base << uint(attempt)
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", dlqErr),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			log.Info("context canceled during DLQ retry")
			return false
		}
	}
	return false
}

func processMessage(ctx context.Context, log *slog.Logger, idx reportIndexer, fetcher reportFetcher, cache *dedupe.Cache, cfg *config.Worker, msg kafka.Message) error {
	var event rawEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	reportID := strings.TrimSpace(event.ReportID.String())
	brand := strings.TrimSpace(event.BrandName)
	inline := hasData(event.Data)
	if reportID == "" && !inline {
		return errEmptyEvent
	}

	// The ID uses the event's own timestamp, zero when absent, so replays of
	// the same event map to the same document.
	created := parseTimestamp(event.CreatedAt)
	ts := created
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := processing.BuildDocumentID(reportID, brand, created)
	if id == "" {
		id = uuid.NewString()
	} else if cache.IsSeen(id) {
		log.Debug("duplicate report", slog.String("id", id), slog.String("report_id", reportID))
		return nil
	}

	raw, err := loadReport(ctx, fetcher, reportID, event.Data, inline)
	if err != nil {
		return err
	}

	view := report.BuildView(raw)
	if len(view.Conflicts) > 0 {
		log.Warn("report matched several envelope shapes",
			slog.String("report_id", reportID),
			slog.Any("wrappers", view.Conflicts),
		)
	}

	doc := processing.Flatten(reportID, brand, ts, view, cfg.TagLimit)
	doc.ID = id

	if err := idx.IndexReport(ctx, doc); err != nil {
		return err
	}

	cache.MarkSeen(id)
	log.Info("indexed report",
		slog.String("id", doc.ID),
		slog.String("report_id", reportID),
		slog.String("brand", doc.BrandName),
		slog.String("state", string(doc.State)),
	)
	return nil
}

func loadReport(ctx context.Context, fetcher reportFetcher, reportID string, data json.RawMessage, inline bool) (*report.Node, error) {
	if inline {
		raw, err := report.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse inline report: %w", err)
		}
		return raw, nil
	}

	raw, err := fetcher.FetchReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetch report %s: %w", reportID, err)
	}
	return raw, nil
}

func hasData(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts.UTC()
		}
	}

	return time.Time{}
}
