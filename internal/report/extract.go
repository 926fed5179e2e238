package report

import (
	"sort"
	"strconv"
	"strings"
)

const agePrefix = "age_"

// bidRanks are the search-result ranks quoted in bid pricing.
var bidRanks = []int{1, 2, 3, 4, 5}

// Extract derives the analytics sections from a resolved body and its
// summary. Every field falls back to a display default, so any input,
// including nil nodes, yields a complete value.
func Extract(body, summary *Node) Sections {
	meta := summary.Get("meta")
	mine := summary.Get("my_store")
	top10 := summary.Get("top10")

	ka := body.Get("keyword_analysis")
	ratio := ka.Get("ratio")

	return Sections{
		Ranking: Ranking{
			TopPercent:          formatTopPercent(mine.Get("top_percent")),
			TopPercentRatio:     ratioValue(mine.Get("top_percent")),
			TotalPlaces:         meta.Get("total_places").Or(Unknown),
			RankNumber:          mine.Get("rank_number").Or(Unknown),
			Keyword:             meta.Get("keyword").Or(Unknown),
			MonthlySearchVolume: meta.Get("monthly").Or(Unknown),
		},
		Audience: audience(ka, ratio),
		Keywords: Keywords{
			Representative: texts(ka.Get("related").Items()),
			Related:        relatedTitles(body.Path("related_keywords", "related")),
		},
		Reviews: Reviews{
			MyVisit:       mine.Get("visit").Or(Unknown),
			MyBlog:        mine.Get("blog").Or(Unknown),
			Top10VisitAvg: top10.Get("visit_avg").Or(Unknown),
			Top10BlogAvg:  top10.Get("blog_avg").Or(Unknown),
		},
		CompetitorMovement: competitor(summary.Get("rising")),
		BidPricing:         bidPricing(ka.Path("bids", "MOBILE")),
	}
}

func audience(ka, ratio *Node) Audience {
	bands := ageBands(ratio.Get("age_ratio_pct"))
	a := Audience{
		FemalePct:       ratio.Path("gender_ratio_pct", "female").Or(ZeroCount),
		MobileSearch:    ka.Path("main", "mobile_search").Or(ZeroCount),
		DominantAgeBand: dominant(bands),
	}

	sorted := make([]AgeBand, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aok := leadingInt(sorted[i].Label)
		bi, bok := leadingInt(sorted[j].Label)
		if aok != bok {
			return aok
		}
		return ai < bi
	})
	a.AgeBands = sorted
	return a
}

// ageBands collects age_* entries in document order.
func ageBands(pct *Node) []AgeBand {
	bands := make([]AgeBand, 0, pct.Len())
	for _, f := range pct.Fields() {
		if !strings.HasPrefix(f.Key, agePrefix) {
			continue
		}
		value, _ := f.Value.Float()
		bands = append(bands, AgeBand{
			Key:     f.Key,
			Label:   strings.TrimPrefix(f.Key, agePrefix),
			Percent: value,
			Display: f.Value.Text(),
		})
	}
	return bands
}

// dominant folds over bands in document order from a {"", 0} seed and only
// replaces the running maximum on a strictly greater value, so the first of
// tied bands wins and all-zero input has no dominant band.
func dominant(bands []AgeBand) *AgeBand {
	best := AgeBand{}
	for _, b := range bands {
		if b.Percent > best.Percent {
			best = b
		}
	}
	if best.Key == "" {
		return nil
	}
	return &best
}

func competitor(rising *Node) *CompetitorMovement {
	if !rising.Get("name").Truthy() {
		return nil
	}
	return &CompetitorMovement{
		Name:  rising.Get("name").Text(),
		Move:  rising.Get("move").Text(),
		Visit: rising.Get("visit").Or(Unknown),
		Blog:  rising.Get("blog").Or(Unknown),
	}
}

// bidPricing reads per-rank bids from either an object keyed by rank or an
// array indexed by rank.
func bidPricing(mobile *Node) *BidPricing {
	if !mobile.Truthy() {
		return nil
	}
	bp := &BidPricing{Mobile: make([]BidRank, 0, len(bidRanks))}
	for _, rank := range bidRanks {
		var v *Node
		switch mobile.Kind() {
		case KindArray:
			v = mobile.Index(rank)
		default:
			v = mobile.Get(strconv.Itoa(rank))
		}
		bp.Mobile = append(bp.Mobile, BidRank{Rank: rank, Amount: v.Or(Unknown)})
	}
	return bp
}

func relatedTitles(related *Node) []string {
	out := make([]string, 0, related.Len())
	for _, item := range related.Items() {
		title := item.Get("title")
		if title.IsNull() {
			continue
		}
		out = append(out, title.Text())
	}
	return out
}

func texts(items []*Node) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Text())
	}
	return out
}
