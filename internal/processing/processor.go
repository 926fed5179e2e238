package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/DeafMist/place-radar/internal/models"
	"github.com/DeafMist/place-radar/internal/report"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var (
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// CleanText strips HTML entities, removes URLs and punctuation, and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = urlRegex.ReplaceAllString(decoded, " ")
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// NormalizeTags cleans and lowercases tags, dropping blanks, the unknown
// marker and case-insensitive duplicates. The first occurrence keeps its
// position. A positive limit caps the result.
func NormalizeTags(tags []string, limit int) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))

	for _, tag := range tags {
		if limit > 0 && len(out) >= limit {
			break
		}
		tag = strings.TrimSpace(tag)
		if tag == report.Unknown {
			continue
		}
		tag = strings.ToLower(CleanText(strings.TrimLeft(tag, "#")))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}

	return out
}

// BuildDocumentID hashes the fields identifying one report revision.
func BuildDocumentID(reportID, brandName string, ts time.Time) string {
	if strings.TrimSpace(reportID) == "" {
		return ""
	}
	s := sha1.Sum([]byte(reportID + "|" + brandName + "|" + ts.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(s[:])
}

// Flatten turns a view into the document indexed for search. The caller
// assigns the document ID.
func Flatten(reportID, fallbackBrand string, ts time.Time, v report.View, tagLimit int) models.ReportDocument {
	brand := strings.TrimSpace(v.BrandName)
	if brand == "" {
		brand = strings.TrimSpace(fallbackBrand)
	}

	doc := models.ReportDocument{
		ReportID:  reportID,
		BrandName: brand,
		State:     v.State,
		Timestamp: ts.UTC(),
		Tags:      []string{},
		Conflicts: v.Conflicts,
		Sections:  v.Sections,
	}

	s := v.Sections
	if s == nil {
		return doc
	}

	if s.Ranking.Keyword != report.Unknown {
		doc.Keyword = s.Ranking.Keyword
	}
	doc.RankNumber = parseCount(s.Ranking.RankNumber)
	doc.TotalPlaces = parseCount(s.Ranking.TotalPlaces)
	doc.TopPercentRatio = s.Ranking.TopPercentRatio

	tags := make([]string, 0, len(s.Keywords.Representative)+len(s.Keywords.Related))
	tags = append(tags, s.Keywords.Representative...)
	tags = append(tags, s.Keywords.Related...)
	doc.Tags = NormalizeTags(tags, tagLimit)

	if s.CompetitorMovement != nil {
		doc.RisingCompetitor = s.CompetitorMovement.Name
	}

	return doc
}

// parseCount reads a whole number from a display value such as "1,204".
func parseCount(display string) *int64 {
	raw := strings.ReplaceAll(strings.TrimSpace(display), ",", "")
	if raw == "" || raw == report.Unknown {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return nil
	}
	n := int64(f)
	return &n
}
