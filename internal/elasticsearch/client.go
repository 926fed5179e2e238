package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/place-radar/internal/models"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
	defaultSort     = "timestamp:desc"
)

// sortable maps the sort keys accepted from callers to indexed fields.
var sortable = map[string]string{
	"timestamp":         "timestamp",
	"rank_number":       "rank_number",
	"total_places":      "total_places",
	"top_percent_ratio": "top_percent_ratio",
	"brand_name":        "brand_name.keyword",
}

// Client wraps go-elasticsearch with helpers for the report index.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// SearchParams narrow the report search query.
type SearchParams struct {
	Query   string
	Brand   string
	Keyword string
	State   string
	Tags    []string
	From    int
	Size    int
	Sort    string
	Start   *time.Time
	End     *time.Time
}

// SearchResult bundles hits and total count.
type SearchResult struct {
	Total int64                   `json:"total"`
	Items []models.ReportDocument `json:"items"`
}

// New instantiates the Elasticsearch client.
func New(addr, index string, logger *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// IndexReport writes a report document, replacing any earlier revision with
// the same ID.
func (c *Client) IndexReport(ctx context.Context, doc models.ReportDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", doc.ReportID, err)
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(payload),
		Refresh:    "false",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("index report: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index report failed: %s", strings.TrimSpace(string(body)))
	}

	c.log.Debug("report indexed", slog.String("id", doc.ID), slog.String("index", c.index))
	return nil
}

// SearchReports executes a bool query with optional filters.
func (c *Client) SearchReports(ctx context.Context, params SearchParams) (*SearchResult, error) {
	payload, err := json.Marshal(BuildSearchBody(params))
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source models.ReportDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.ReportDocument, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}

	return &SearchResult{
		Total: parsed.Hits.Total.Value,
		Items: items,
	}, nil
}

// BuildSearchBody renders params as a search request body. Page bounds are
// clamped and unknown sort fields fall back to newest first.
func BuildSearchBody(params SearchParams) map[string]any {
	if params.Size <= 0 {
		params.Size = defaultPageSize
	}
	if params.Size > maxPageSize {
		params.Size = maxPageSize
	}
	if params.From < 0 {
		params.From = 0
	}

	must := make([]map[string]any, 0, 1)
	filters := make([]map[string]any, 0, 5)

	if q := strings.TrimSpace(params.Query); q != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"brand_name^2", "keyword^2", "tags", "rising_competitor"},
			},
		})
	}

	terms := []struct{ field, value string }{
		{"brand_name.keyword", params.Brand},
		{"keyword.keyword", params.Keyword},
		{"state.keyword", params.State},
	}
	for _, t := range terms {
		if v := strings.TrimSpace(t.value); v != "" {
			filters = append(filters, map[string]any{
				"term": map[string]any{t.field: v},
			})
		}
	}

	if len(params.Tags) > 0 {
		filters = append(filters, map[string]any{
			"terms": map[string]any{
				"tags.keyword": params.Tags,
			},
		})
	}

	if params.Start != nil || params.End != nil {
		rangeQuery := map[string]any{}
		if params.Start != nil {
			rangeQuery["gte"] = params.Start.UTC().Format(time.RFC3339)
		}
		if params.End != nil {
			rangeQuery["lte"] = params.End.UTC().Format(time.RFC3339)
		}
		filters = append(filters, map[string]any{
			"range": map[string]any{
				"timestamp": rangeQuery,
			},
		})
	}

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	if len(must) == 0 && len(filters) == 0 {
		boolQuery["must"] = []map[string]any{
			{"match_all": map[string]any{}},
		}
	}

	field, order := parseSort(params.Sort)

	return map[string]any{
		"from":             params.From,
		"size":             params.Size,
		"track_total_hits": true,
		"query": map[string]any{
			"bool": boolQuery,
		},
		"sort": []map[string]any{
			{field: map[string]any{"order": order, "unmapped_type": "long"}},
		},
	}
}

func parseSort(raw string) (string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = defaultSort
	}

	name, order, _ := strings.Cut(raw, ":")
	field, ok := sortable[name]
	if !ok {
		field = "timestamp"
	}
	if order != "asc" {
		order = "desc"
	}
	return field, order
}

// DeleteOlderThan removes reports older than maxAge using batched delete-by-query.
// It loops until a batch returns fewer deleted documents than the requested batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format(time.RFC3339)
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					"timestamp": map[string]any{
						"lte": cutoff,
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
			c.es.DeleteByQuery.WithMaxDocs(batchSize),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		deleted, err := decodeDeleted(res)
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += deleted

		if deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

func decodeDeleted(res *esapi.Response) (int64, error) {
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Health reports an error unless the cluster answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}
