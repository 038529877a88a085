// Package risk scores parsed sign-in notifications with a fixed additive
// heuristic.
package risk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/linnemanlabs/sentra/internal/notification"
)

// TimeLayout is the display format of notification times, e.g. "02:00 AM UTC".
const TimeLayout = "3:04 PM UTC"

// MaxScore is the highest score the default weights can produce.
const MaxScore = 10

// Factor names.
const (
	FactorNewSource      = "new_source"
	FactorHighRiskRegion = "high_risk_region"
	FactorOffHours       = "off_hours"
	FactorBadTime        = "unparseable_time"
	FactorUnknownPlace   = "unknown_location"
)

// Weights are the points added per factor.
type Weights struct {
	NewSource      int
	HighRiskRegion int
	OffHours       int
	BadTime        int
	UnknownPlace   int
}

// DefaultWeights returns the stock heuristic.
func DefaultWeights() Weights {
	return Weights{
		NewSource:      3,
		HighRiskRegion: 3,
		OffHours:       2,
		BadTime:        1,
		UnknownPlace:   2,
	}
}

// DefaultRegions is the stock high-risk region list.
func DefaultRegions() []string {
	return []string{"Russia", "China"}
}

// KnownSources reports whether an IP has been trusted by the operator.
type KnownSources interface {
	Contains(ip string) bool
}

// Factor is a single rule that contributed to a score.
type Factor struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Detail string `json:"detail"`
}

// Assessment is a score together with the factors that produced it.
type Assessment struct {
	Score   int      `json:"score"`
	Factors []Factor `json:"factors"`
}

// Scorer applies the heuristic. The zero value scores nothing; use New.
type Scorer struct {
	weights Weights
	regions []string
}

// New returns a Scorer with the given weights and high-risk regions. Empty
// region entries are ignored.
func New(w Weights, regions []string) *Scorer {
	rs := make([]string, 0, len(regions))
	for _, r := range regions {
		if r = strings.TrimSpace(r); r != "" {
			rs = append(rs, r)
		}
	}
	return &Scorer{weights: w, regions: rs}
}

// Score returns the total score for n.
func (s *Scorer) Score(n notification.Notification, known KnownSources) int {
	return s.Assess(n, known).Score
}

// Assess evaluates every factor independently and sums the applicable ones.
func (s *Scorer) Assess(n notification.Notification, known KnownSources) Assessment {
	var a Assessment
	add := func(name string, weight int, detail string) {
		a.Score += weight
		a.Factors = append(a.Factors, Factor{Name: name, Weight: weight, Detail: detail})
	}

	if known == nil || !known.Contains(n.IP) {
		add(FactorNewSource, s.weights.NewSource, fmt.Sprintf("%s is not a trusted source", n.IP))
	}

	if region, ok := s.matchRegion(n.Location); ok {
		add(FactorHighRiskRegion, s.weights.HighRiskRegion, fmt.Sprintf("location mentions %s", region))
	}

	if hour, ok := ParseHour(n.Time); ok {
		if OffHours(hour) {
			add(FactorOffHours, s.weights.OffHours, fmt.Sprintf("sign-in at %02d:00 UTC", hour))
		}
	} else {
		add(FactorBadTime, s.weights.BadTime, fmt.Sprintf("time %q does not parse", n.Time))
	}

	if n.Location == notification.UnknownLocation {
		add(FactorUnknownPlace, s.weights.UnknownPlace, "location not reported")
	}

	return a
}

func (s *Scorer) matchRegion(location string) (string, bool) {
	for _, r := range s.regions {
		if strings.Contains(location, r) {
			return r, true
		}
	}
	return "", false
}

// clockPattern matches a 12-hour clock reading in UTC. The hour is 1-12
// with an optional leading zero and the minute takes one or two digits.
// Letters match in any case.
var clockPattern = regexp.MustCompile(`(?i)^(1[0-2]|0?[1-9]):([0-5]?[0-9])\s+([ap]m)\s+UTC$`)

// ParseHour returns the 24h hour of a TimeLayout string. Readings outside
// the 12-hour clock, such as "0:30 AM UTC" or "13:00 PM UTC", do not parse.
func ParseHour(s string) (int, bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	hour %= 12
	if strings.EqualFold(m[3], "PM") {
		hour += 12
	}
	return hour, true
}

// OffHours reports whether hour is outside the 06:00-22:59 window. Hour 22
// is inside the window.
func OffHours(hour int) bool {
	return hour < 6 || hour > 22
}
