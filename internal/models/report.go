package models

import (
	"time"

	"github.com/DeafMist/place-radar/internal/report"
)

// ReportDocument is the flattened form of a normalized report stored in
// Elasticsearch. Scalar fields mirror the most common search filters; the
// full derived sections ride along for display.
type ReportDocument struct {
	ID        string       `json:"id"`
	ReportID  string       `json:"report_id"`
	BrandName string       `json:"brand_name"`
	Keyword   string       `json:"keyword"`
	State     report.State `json:"state"`
	Timestamp time.Time    `json:"timestamp"`

	RankNumber      *int64   `json:"rank_number,omitempty"`
	TotalPlaces     *int64   `json:"total_places,omitempty"`
	TopPercentRatio *float64 `json:"top_percent_ratio,omitempty"`

	Tags             []string         `json:"tags"`
	RisingCompetitor string           `json:"rising_competitor,omitempty"`
	Conflicts        []string         `json:"conflicts,omitempty"`
	Sections         *report.Sections `json:"sections,omitempty"`
}
