package simulation

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/art-injener/satscan-go/internal/tracker"
)

// Report результат прогона.
type Report struct {
	RunID   string         `json:"run_id"`
	NoradID int            `json:"norad_id"`
	Name    string         `json:"name,omitempty"`
	Model   string         `json:"model"`
	Window  tracker.Window `json:"-"`
	AreaKm  float64        `json:"area_km"`

	Track      *tracker.Track      `json:"track"`
	Footprints []tracker.Footprint `json:"footprints"`

	// Failures отсутствующие отсчёты трассы и зоны, которые не удалось построить.
	Failures      []tracker.SampleFailure `json:"-"`
	FailureCounts map[string]int          `json:"failure_counts,omitempty"`

	Scan   *tracker.ScanResult `json:"scan,omitempty"`
	Passes []tracker.Pass      `json:"passes,omitempty"`

	Summary string `json:"summary"`
}

// summary формирует итоговое сообщение.
func (r *Report) summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Orbit data calculated successfully. Total propagated points: %d.", len(r.Track.Samples))

	if r.Scan != nil {
		fmt.Fprintf(&b, " Satellite can scan target point %d times", r.Scan.Count())
		if n := len(r.Passes); n > 0 {
			fmt.Fprintf(&b, " in %d passes", n)
		}
		b.WriteString(".")
	}

	if len(r.FailureCounts) > 0 {
		fmt.Fprintf(&b, " Failed samples: %s.", formatCounts(r.FailureCounts))
	}

	return b.String()
}

// PassLines возвращает отчёт о пролётах, по строке на пролёт.
func (r *Report) PassLines() []string {
	lines := make([]string, 0, len(r.Passes))

	for i, p := range r.Passes {
		lines = append(lines, fmt.Sprintf("pass %d: %s - %s (%s), %d samples, max elevation %.1f°",
			i+1,
			p.Start.UTC().Format(time.RFC3339),
			p.End.UTC().Format(time.RFC3339),
			p.Duration(),
			len(p.Matches),
			p.MaxElevation,
		))
	}

	return lines
}

// LiveFix текущее положение спутника и его ECEF-вектор для 3D-отрисовки.
type LiveFix struct {
	NoradID int                  `json:"norad_id"`
	Name    string               `json:"name,omitempty"`
	Sample  tracker.GroundSample `json:"sample"`
	ECEF    [3]float64           `json:"ecef"` // км
	TLEAge  time.Duration        `json:"tle_age_ns"`
}

// countReasons считает отсутствующие отсчёты по причинам.
func countReasons(failures []tracker.SampleFailure) map[string]int {
	if len(failures) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, f := range failures {
		counts[f.Reason()]++
	}

	return counts
}

// formatCounts форматирует счётчики в порядке имён: "decayed_orbit=3, polar_singularity=1".
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}

	parts := make([]string, 0, len(counts))
	for _, reason := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s=%d", reason, counts[reason]))
	}

	return strings.Join(parts, ", ")
}
