package tracker

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// GeoPoint точка на поверхности Земли, градусы.
type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"` // Широта (-90..+90).
	Lon float64 `json:"lon" yaml:"lon"` // Долгота (-180..+180).
}

// Validate проверяет диапазоны координат.
func (p GeoPoint) Validate() error {
	if !isFinite(p.Lat) || !isFinite(p.Lon) {
		return fmt.Errorf("%w: non-finite coordinates (%g, %g)", ErrInvalidPoint, p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %g not in [-90, 90]", ErrInvalidPoint, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %g not in [-180, 180]", ErrInvalidPoint, p.Lon)
	}

	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("(%.4f°, %.4f°)", p.Lat, p.Lon)
}

// ScanMatch зона обзора, содержащая точку запроса.
type ScanMatch struct {
	Time      time.Time `json:"time"`
	Footprint Footprint `json:"footprint"`
	Elevation float64   `json:"elevation"` // Угол места спутника из точки запроса, градусы.
}

// ScanResult все моменты, когда точка попадает в зону обзора, по возрастанию времени.
type ScanResult struct {
	Point   GeoPoint    `json:"point"`
	Matches []ScanMatch `json:"matches"`
}

// Query находит зоны, содержащие точку. Пустой результат не является ошибкой.
func Query(footprints []Footprint, point GeoPoint) (*ScanResult, error) {
	if err := point.Validate(); err != nil {
		return nil, err
	}

	result := &ScanResult{Point: point, Matches: []ScanMatch{}}

	for _, fp := range footprints {
		if !fp.Contains(point) {
			continue
		}

		sat := Geodetic{Lat: fp.Center.Lat, Lon: fp.Center.Lon, Alt: fp.Alt}
		result.Matches = append(result.Matches, ScanMatch{
			Time:      fp.Time,
			Footprint: fp,
			Elevation: LookAngle(point, sat).ElDeg(),
		})
	}

	slices.SortStableFunc(result.Matches, func(a, b ScanMatch) int {
		return a.Time.Compare(b.Time)
	})

	return result, nil
}

// Count возвращает число совпадений.
func (r *ScanResult) Count() int {
	if r == nil {
		return 0
	}

	return len(r.Matches)
}

// Covered сообщает, что точка попала хотя бы в одну зону.
func (r *ScanResult) Covered() bool {
	return r.Count() > 0
}

// Pass непрерывная серия отсчётов, в которых точка находится в зоне обзора.
type Pass struct {
	Start        time.Time   `json:"start"`
	End          time.Time   `json:"end"`
	Matches      []ScanMatch `json:"-"`
	MaxElevation float64     `json:"max_elevation"` // Градусы.
}

// Duration возвращает длительность пролёта между первым и последним отсчётом.
func (p Pass) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Passes группирует совпадения с последовательными индексами отсчётов в пролёты.
func (r *ScanResult) Passes() []Pass {
	if r.Count() == 0 {
		return nil
	}

	var passes []Pass

	start := 0
	for i := 1; i <= len(r.Matches); i++ {
		if i < len(r.Matches) && r.Matches[i].Footprint.Index == r.Matches[i-1].Footprint.Index+1 {
			continue
		}

		passes = append(passes, newPass(r.Matches[start:i]))
		start = i
	}

	return passes
}

func newPass(matches []ScanMatch) Pass {
	maxEl := math.Inf(-1)
	for _, m := range matches {
		maxEl = math.Max(maxEl, m.Elevation)
	}

	return Pass{
		Start:        matches[0].Time,
		End:          matches[len(matches)-1].Time,
		Matches:      matches,
		MaxElevation: maxEl,
	}
}
