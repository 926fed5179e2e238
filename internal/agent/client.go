package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/DeafMist/place-radar/internal/report"
)

const maxResponseBytes = 32 << 20

// singleShotKey marks requests that must reach the agent at most once.
type singleShotKey struct{}

// Options tune the HTTP behaviour of the client.
type Options struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client talks to the analysis agent that owns brands, tasks and reports.
type Client struct {
	http *retryablehttp.Client
	base string
	log  *slog.Logger
}

// New builds a client for the agent at baseURL.
func New(baseURL string, opts Options, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse agent url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("agent url %q must be an absolute http(s) url", baseURL)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rc := retryablehttp.NewClient()
	rc.Logger = logger
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.CheckRetry = checkRetry
	// Hand back the last response after retries so its status can be reported.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http: rc,
		base: strings.TrimRight(u.String(), "/"),
		log:  logger,
	}, nil
}

// ListBrands returns every registered brand.
func (c *Client) ListBrands(ctx context.Context) ([]Brand, error) {
	var out brandsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/adlinks", nil, &out); err != nil {
		return nil, err
	}
	if out.Data == nil {
		return []Brand{}, nil
	}
	return out.Data, nil
}

// VerifyPlace looks up the listing behind placeURL so the user can confirm
// it before registering.
func (c *Client) VerifyPlace(ctx context.Context, placeURL, keyword string) (*PlaceInfo, error) {
	placeURL = strings.TrimSpace(placeURL)
	keyword = strings.TrimSpace(keyword)
	if placeURL == "" || keyword == "" {
		return nil, fmt.Errorf("place url and keyword are required: %w", ErrInvalidInput)
	}

	var out verifyResponse
	err := c.do(ctx, http.MethodPost, "/place/info", verifyRequest{Keyword: keyword, PlaceURL: placeURL}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "place lookup failed"
		}
		return nil, &RemoteError{Op: "verify place", Message: msg}
	}
	if out.Data == nil {
		return nil, &RemoteError{Op: "verify place", Message: "empty place info"}
	}
	return out.Data, nil
}

// RegisterBrand queues a register task for a verified place. The place name
// becomes the brand name.
func (c *Client) RegisterBrand(ctx context.Context, place PlaceInfo, placeURL, keyword string) (TaskAck, error) {
	name := strings.TrimSpace(place.Name)
	placeURL = strings.TrimSpace(placeURL)
	keyword = strings.TrimSpace(keyword)
	if name == "" || placeURL == "" || keyword == "" {
		return TaskAck{}, fmt.Errorf("verified place, url and keyword are required: %w", ErrInvalidInput)
	}

	var ack TaskAck
	err := c.do(ctx, http.MethodPost, "/brand/register", registerRequest{
		BrandName: name,
		PlaceURL:  placeURL,
		Keyword:   keyword,
	}, &ack)
	if err != nil {
		return TaskAck{}, err
	}

	c.log.Info("brand registration queued", slog.String("brand", name), slog.String("task_id", ack.TaskID.String()))
	return ack, nil
}

// CreateAnalysisTask queues a report task for a brand the agent has
// finished registering.
func (c *Client) CreateAnalysisTask(ctx context.Context, b Brand) (TaskAck, error) {
	if !b.Ready() {
		return TaskAck{}, fmt.Errorf("brand %q: %w", b.BrandName, ErrBrandNotReady)
	}

	var ack TaskAck
	err := c.do(ctx, http.MethodPost, "/task/create", taskRequest{
		Type:      "report",
		BrandName: b.BrandName,
		PlaceURL:  b.PlaceID.String(),
		ShareURL:  b.ShareURL,
		Keyword:   b.Keyword,
	}, &ack)
	if err != nil {
		return TaskAck{}, err
	}

	c.log.Info("analysis task queued", slog.String("brand", b.BrandName), slog.String("task_id", ack.TaskID.String()))
	return ack, nil
}

// ListReports returns generated reports, newest first.
func (c *Client) ListReports(ctx context.Context) ([]ReportRef, error) {
	var out reportsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/reports", nil, &out); err != nil {
		return nil, err
	}
	return out.Reports, nil
}

// LatestReport returns the newest report generated for brandName.
func (c *Client) LatestReport(ctx context.Context, brandName string) (ReportRef, error) {
	refs, err := c.ListReports(ctx)
	if err != nil {
		return ReportRef{}, err
	}
	if len(refs) == 0 {
		return ReportRef{}, ErrNoReports
	}
	for _, ref := range refs {
		if ref.BrandName == brandName {
			return ref, nil
		}
	}
	return ReportRef{}, fmt.Errorf("report for brand %q: %w", brandName, ErrNotFound)
}

// FetchReport downloads the raw report document. A missing data field comes
// back as a null node.
func (c *Client) FetchReport(ctx context.Context, reportID string) (*report.Node, error) {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" {
		return nil, fmt.Errorf("report id is required: %w", ErrInvalidInput)
	}

	var out reportResponse
	if err := c.do(ctx, http.MethodGet, "/v1/report/"+url.PathEscape(reportID), nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &RemoteError{Op: "fetch report", Message: out.Error}
	}
	if len(out.Data) == 0 {
		return report.Null(), nil
	}

	doc, err := report.Parse(out.Data)
	if err != nil {
		return nil, fmt.Errorf("parse report %s: %w", reportID, err)
	}
	return doc, nil
}

// checkRetry applies the default policy to reads only. Writes queue work on
// the agent, and a timeout or 5xx does not tell whether it was queued.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Value(singleShotKey{}) != nil {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := method + " " + path
	if method != http.MethodGet {
		ctx = context.WithValue(ctx, singleShotKey{}, true)
	}

	var payload any
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", op, err)
		}
		payload = data
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, payload)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}

	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return &RemoteError{Op: op, StatusCode: res.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var body struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Detail != "" {
			return body.Detail
		}
	}
	return ""
}
