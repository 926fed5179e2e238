package report

// State tells the rendering layer which screen to show.
type State string

const (
	StateReady     State = "ready"
	StateNoSummary State = "no_summary"
	StateNoReport  State = "no_report"
)

// Display defaults for absent fields.
const (
	Unknown      = "?"
	NoPercentage = "-"
	ZeroCount    = "0"
)

// View is the presentation-ready form of one report document.
type View struct {
	State     State     `json:"state"`
	BrandName string    `json:"brand_name"`
	Conflicts []string  `json:"conflicts,omitempty"`
	Sections  *Sections `json:"sections,omitempty"`
	// Raw is attached when no summary could be located so the document can
	// be inspected by hand.
	Raw *Node `json:"raw,omitempty"`

	Body    *Node `json:"-"`
	Summary *Node `json:"-"`
}

// Sections holds the analytics derived from a located summary.
type Sections struct {
	Ranking            Ranking             `json:"ranking"`
	Audience           Audience            `json:"audience"`
	Keywords           Keywords            `json:"keywords"`
	Reviews            Reviews             `json:"reviews"`
	CompetitorMovement *CompetitorMovement `json:"competitor_movement,omitempty"`
	BidPricing         *BidPricing         `json:"bid_pricing,omitempty"`
}

type Ranking struct {
	// TopPercent is the ratio as a percentage with one decimal, or "-".
	TopPercent string `json:"top_percent"`
	// TopPercentRatio is the raw ratio when one was reported.
	TopPercentRatio     *float64 `json:"top_percent_ratio,omitempty"`
	TotalPlaces         string   `json:"total_places"`
	RankNumber          string   `json:"rank_number"`
	Keyword             string   `json:"keyword"`
	MonthlySearchVolume string   `json:"monthly_search_volume"`
}

type Audience struct {
	FemalePct    string `json:"female_pct"`
	MobileSearch string `json:"mobile_search"`
	// AgeBands is sorted by the age embedded in the key.
	AgeBands        []AgeBand `json:"age_bands"`
	DominantAgeBand *AgeBand  `json:"dominant_age_band,omitempty"`
}

type AgeBand struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Percent float64 `json:"percent"`
	Display string  `json:"display"`
}

type Keywords struct {
	Representative []string `json:"representative"`
	Related        []string `json:"related"`
}

type Reviews struct {
	MyVisit       string `json:"my_visit"`
	MyBlog        string `json:"my_blog"`
	Top10VisitAvg string `json:"top10_visit_avg"`
	Top10BlogAvg  string `json:"top10_blog_avg"`
}

type CompetitorMovement struct {
	Name  string `json:"name"`
	Move  string `json:"move"`
	Visit string `json:"visit"`
	Blog  string `json:"blog"`
}

// BidPricing lists the estimated mobile CPC for ranks 1 through 5.
type BidPricing struct {
	Mobile []BidRank `json:"mobile"`
}

type BidRank struct {
	Rank   int    `json:"rank"`
	Amount string `json:"amount"`
}

// BuildView runs the full pipeline on a raw document: envelope resolution,
// summary location and field extraction. It mutates raw only by removing
// register metadata from the resolved body.
func BuildView(raw *Node) View {
	res := Resolve(raw)

	v := View{Body: res.Body}
	if res.Conflict() {
		v.Conflicts = res.Matched
	}

	if !res.Body.Truthy() {
		v.State = StateNoReport
		v.BrandName = raw.Get("brand").Or("")
		return v
	}

	summary := Locate(res.Body)
	if summary == nil {
		v.State = StateNoSummary
		v.BrandName = raw.Get("brand").Or("")
		v.Raw = raw
		return v
	}

	sections := Extract(res.Body, summary)
	v.State = StateReady
	v.Summary = summary
	v.Sections = &sections
	v.BrandName = summary.Path("meta", "biz").Or(raw.Get("brand").Or(""))
	return v
}
