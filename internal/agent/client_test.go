package agent_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/place-radar/internal/agent"
	"github.com/DeafMist/place-radar/internal/report"
)

func newClient(t *testing.T, handler http.Handler) *agent.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := agent.New(srv.URL+"/", agent.Options{
		Timeout:      2 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, log)
	require.NoError(t, err)
	return c
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := agent.New("agent:8000", agent.Options{}, nil)
	require.Error(t, err)

	_, err = agent.New("/v1", agent.Options{}, nil)
	require.Error(t, err)
}

func TestListBrands(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/adlinks", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = io.WriteString(w, `{"data":[
			{"id":7,"brand_name":"Cafe Onion","place_id":1234567,"share_url":"https://naver.me/x","keyword":"seongsu cafe","success":true},
			{"id":"8","brand_name":"Pending","place_id":"99","share_url":"","keyword":"k","success":false,"error":"timeout"}
		]}`)
	}))

	brands, err := c.ListBrands(context.Background())
	require.NoError(t, err)
	require.Len(t, brands, 2)

	require.Equal(t, agent.ID("7"), brands[0].ID)
	require.Equal(t, agent.ID("1234567"), brands[0].PlaceID)
	require.True(t, brands[0].Ready())

	require.Equal(t, agent.ID("8"), brands[1].ID)
	require.False(t, brands[1].Ready())
	require.Equal(t, "timeout", brands[1].Error)
}

func TestListBrandsEmpty(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	}))

	brands, err := c.ListBrands(context.Background())
	require.NoError(t, err)
	require.NotNil(t, brands)
	require.Empty(t, brands)
}

func TestVerifyPlace(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/place/info", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"keyword": "seongsu cafe", "place_url": "https://map.naver.com/p/1"}, body)

		_, _ = io.WriteString(w, `{"success":true,"data":{"name":"Cafe Onion","category":["Cafe","Bakery"],"address":"Seoul"}}`)
	}))

	info, err := c.VerifyPlace(context.Background(), " https://map.naver.com/p/1 ", "seongsu cafe")
	require.NoError(t, err)
	require.Equal(t, "Cafe Onion", info.Name)
	require.Equal(t, "Cafe > Bakery", info.Category.String())
}

func TestVerifyPlaceFailures(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"place not found"}`)
	}))

	_, err := c.VerifyPlace(context.Background(), "", "keyword")
	require.ErrorIs(t, err, agent.ErrInvalidInput)

	_, err = c.VerifyPlace(context.Background(), "https://map.naver.com/p/1", "k")
	var remote *agent.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "place not found", remote.Message)
}

func TestRegisterBrand(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/brand/register", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Cafe Onion", body["brand_name"])
		assert.Equal(t, "https://map.naver.com/p/1", body["place_url"])
		assert.Equal(t, "seongsu cafe", body["keyword"])
		_, _ = io.WriteString(w, `{"task_id":42}`)
	}))

	ack, err := c.RegisterBrand(context.Background(), agent.PlaceInfo{Name: "Cafe Onion"}, "https://map.naver.com/p/1", "seongsu cafe")
	require.NoError(t, err)
	require.Equal(t, agent.ID("42"), ack.TaskID)

	_, err = c.RegisterBrand(context.Background(), agent.PlaceInfo{}, "https://map.naver.com/p/1", "seongsu cafe")
	require.ErrorIs(t, err, agent.ErrInvalidInput)
}

func TestCreateAnalysisTask(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/task/create", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{
			"type":       "report",
			"brand_name": "Cafe Onion",
			"place_url":  "1234567",
			"share_url":  "https://naver.me/x",
			"keyword":    "seongsu cafe",
		}, body)
		_, _ = io.WriteString(w, `{"task_id":"t-1"}`)
	}))

	_, err := c.CreateAnalysisTask(context.Background(), agent.Brand{BrandName: "Pending", Success: true})
	require.ErrorIs(t, err, agent.ErrBrandNotReady)
	require.Zero(t, calls.Load())

	ack, err := c.CreateAnalysisTask(context.Background(), agent.Brand{
		BrandName: "Cafe Onion",
		PlaceID:   "1234567",
		ShareURL:  "https://naver.me/x",
		Keyword:   "seongsu cafe",
		Success:   true,
	})
	require.NoError(t, err)
	require.Equal(t, agent.ID("t-1"), ack.TaskID)
	require.EqualValues(t, 1, calls.Load())
}

func reportsServer(t *testing.T, body string) *agent.Client {
	return newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reports", r.URL.Path)
		_, _ = io.WriteString(w, body)
	}))
}

func TestLatestReport(t *testing.T) {
	c := reportsServer(t, `{"reports":[{"id":31,"brand_name":"Other"},{"id":30,"brand_name":"Cafe Onion"},{"id":12,"brand_name":"Cafe Onion"}]}`)

	ref, err := c.LatestReport(context.Background(), "Cafe Onion")
	require.NoError(t, err)
	require.Equal(t, agent.ID("30"), ref.ID)

	_, err = c.LatestReport(context.Background(), "Missing")
	require.ErrorIs(t, err, agent.ErrNotFound)

	c = reportsServer(t, `{"reports":[]}`)
	_, err = c.LatestReport(context.Background(), "Cafe Onion")
	require.ErrorIs(t, err, agent.ErrNoReports)
}

func TestFetchReport(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/report/30":
			_, _ = io.WriteString(w, `{"data":{"report":{"summary":{"meta":{"keyword":"cafe"}}},"register":{"x":1}}}`)
		case "/v1/report/31":
			_, _ = io.WriteString(w, `{"data":null,"error":"report not ready"}`)
		case "/v1/report/32":
			_, _ = io.WriteString(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"no such report"}`)
		}
	}))

	doc, err := c.FetchReport(context.Background(), "30")
	require.NoError(t, err)
	v := report.BuildView(doc)
	require.Equal(t, report.StateReady, v.State)
	require.Equal(t, "cafe", v.Sections.Ranking.Keyword)

	_, err = c.FetchReport(context.Background(), "31")
	var remote *agent.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, "report not ready", remote.Message)

	doc, err = c.FetchReport(context.Background(), "32")
	require.NoError(t, err)
	require.True(t, doc.IsNull())

	_, err = c.FetchReport(context.Background(), "404")
	require.ErrorIs(t, err, agent.ErrNotFound)
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusNotFound, remote.StatusCode)
	require.Equal(t, "no such report", remote.Message)

	_, err = c.FetchReport(context.Background(), " ")
	require.ErrorIs(t, err, agent.ErrInvalidInput)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"reports":[{"id":1,"brand_name":"a"}]}`)
	}))

	refs, err := c.ListReports(context.Background())
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestRetriesExhaustedReportStatus(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"detail":"agent busy"}`)
	}))

	_, err := c.ListReports(context.Background())
	var remote *agent.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusServiceUnavailable, remote.StatusCode)
	require.Equal(t, "agent busy", remote.Message)
}

func TestWritesAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.CreateAnalysisTask(context.Background(), agent.Brand{
		BrandName: "Cafe Onion",
		PlaceID:   "1234567",
		ShareURL:  "https://naver.me/x",
		Keyword:   "seongsu cafe",
		Success:   true,
	})
	var remote *agent.RemoteError
	require.ErrorAs(t, err, &remote)
	require.Equal(t, http.StatusBadGateway, remote.StatusCode)
	require.EqualValues(t, 1, calls.Load())

	_, err = c.RegisterBrand(context.Background(), agent.PlaceInfo{Name: "Cafe Onion"}, "https://map.naver.com/p/1", "seongsu cafe")
	require.Error(t, err)
	require.EqualValues(t, 2, calls.Load())
}
