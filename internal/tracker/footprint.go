package tracker

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// DefaultFootprintHalfSizeKm половина стороны зоны обзора 200×200 км.
const DefaultFootprintHalfSizeKm = 100.0

// PolarCosEpsilon минимальный |cos(lat)|, при котором долготная полуширина ещё определена.
const PolarCosEpsilon = 1e-6

// ErrInvalidFootprintSize размер зоны обзора не положителен или не конечен.
var ErrInvalidFootprintSize = errors.New("invalid footprint size")

// Footprint прямоугольная зона обзора вокруг подспутниковой точки.
// Полуразмеры в градусах получены из километров по длинам дуг меридиана и параллели.
type Footprint struct {
	Index      int       `json:"index"`       // Индекс исходного отсчёта.
	Time       time.Time `json:"time"`        // Время исходного отсчёта.
	Center     GeoPoint  `json:"center"`      // Подспутниковая точка.
	Alt        float64   `json:"alt"`         // Высота спутника, км.
	HalfWidth  float64   `json:"half_width"`  // Полуширина по долготе, градусы.
	HalfHeight float64   `json:"half_height"` // Полувысота по широте, градусы.
	MinLat     float64   `json:"min_lat"`
	MaxLat     float64   `json:"max_lat"`
	MinLon     float64   `json:"min_lon"` // При пересечении антимеридиана MinLon > MaxLon.
	MaxLon     float64   `json:"max_lon"`
}

// Contains проверяет попадание точки в зону (границы включаются).
// Используется та же касательная аппроксимация, что и при построении зоны.
func (f Footprint) Contains(p GeoPoint) bool {
	dLat := p.Lat - f.Center.Lat
	dLon := WrapLongitude(p.Lon - f.Center.Lon)

	return math.Abs(dLat) <= f.HalfHeight && math.Abs(dLon) <= f.HalfWidth
}

// CrossesAntimeridian сообщает, что зона пересекает ±180°.
func (f Footprint) CrossesAntimeridian() bool {
	return f.MinLon > f.MaxLon
}

// Corners возвращает углы зоны против часовой стрелки начиная с юго-западного.
func (f Footprint) Corners() [4]GeoPoint {
	return [4]GeoPoint{
		{Lat: f.MinLat, Lon: f.MinLon},
		{Lat: f.MinLat, Lon: f.MaxLon},
		{Lat: f.MaxLat, Lon: f.MaxLon},
		{Lat: f.MaxLat, Lon: f.MinLon},
	}
}

// FootprintCalculator строит зоны обзора фиксированного размера.
type FootprintCalculator struct {
	halfWidthKm  float64
	halfHeightKm float64
}

// NewFootprintCalculator создаёт калькулятор с полуразмерами зоны в км.
func NewFootprintCalculator(halfWidthKm, halfHeightKm float64) (*FootprintCalculator, error) {
	for _, v := range []float64{halfWidthKm, halfHeightKm} {
		if !isFinite(v) || v <= 0 {
			return nil, fmt.Errorf("%w: half sizes %g x %g km", ErrInvalidFootprintSize, halfWidthKm, halfHeightKm)
		}
	}

	return &FootprintCalculator{halfWidthKm: halfWidthKm, halfHeightKm: halfHeightKm}, nil
}

// NewSquareFootprintCalculator создаёт калькулятор квадратной зоны со стороной sizeKm.
func NewSquareFootprintCalculator(sizeKm float64) (*FootprintCalculator, error) {
	return NewFootprintCalculator(sizeKm/2, sizeKm/2)
}

// DefaultFootprintCalculator зона 200×200 км.
func DefaultFootprintCalculator() *FootprintCalculator {
	return &FootprintCalculator{
		halfWidthKm:  DefaultFootprintHalfSizeKm,
		halfHeightKm: DefaultFootprintHalfSizeKm,
	}
}

// HalfSizeKm возвращает полуширину и полувысоту зоны в км.
func (c *FootprintCalculator) HalfSizeKm() (float64, float64) {
	return c.halfWidthKm, c.halfHeightKm
}

// Footprint строит зону обзора для отсчёта.
// Возвращает ErrPolarSingularity, если зона вырождается у полюса.
func (c *FootprintCalculator) Footprint(sample GroundSample) (Footprint, error) {
	if !isFinite(sample.Lat) || !isFinite(sample.Lon) {
		return Footprint{}, fmt.Errorf("%w: non-finite sample position (%g, %g)", ErrInvalidState, sample.Lat, sample.Lon)
	}

	halfHeight := c.halfHeightKm / MeanEarthRadius * Rad2Deg

	cosLat := math.Cos(sample.Lat * Deg2Rad)
	if math.Abs(cosLat) < PolarCosEpsilon || math.Abs(sample.Lat)+halfHeight >= 90 {
		return Footprint{}, fmt.Errorf("%w: latitude %.6f°, half-height %.6f°",
			ErrPolarSingularity, sample.Lat, halfHeight)
	}

	halfWidth := c.halfWidthKm / (MeanEarthRadius * math.Abs(cosLat)) * Rad2Deg
	if halfWidth >= 180 {
		return Footprint{}, fmt.Errorf("%w: longitude half-width %.3f° at latitude %.6f°",
			ErrPolarSingularity, halfWidth, sample.Lat)
	}

	return Footprint{
		Index:      sample.Index,
		Time:       sample.Time,
		Center:     sample.SubSatellitePoint(),
		Alt:        sample.Alt,
		HalfWidth:  halfWidth,
		HalfHeight: halfHeight,
		MinLat:     sample.Lat - halfHeight,
		MaxLat:     sample.Lat + halfHeight,
		MinLon:     wrapBound(sample.Lon - halfWidth),
		MaxLon:     wrapBound(sample.Lon + halfWidth),
	}, nil
}

// Footprints строит зоны для всей трассы. Отсчёты с полярной особенностью
// попадают в список отказов, остальные зоны сохраняют порядок трассы.
func (c *FootprintCalculator) Footprints(track *Track) ([]Footprint, []SampleFailure, error) {
	if track == nil {
		return nil, nil, nil
	}

	footprints := make([]Footprint, 0, len(track.Samples))
	var failures []SampleFailure

	for _, s := range track.Samples {
		fp, err := c.Footprint(s)
		if err != nil {
			if errors.Is(err, ErrInvalidState) {
				return nil, nil, err
			}

			failures = append(failures, SampleFailure{Index: s.Index, Time: s.Time, Stage: StageFootprint, Err: err})
			continue
		}

		footprints = append(footprints, fp)
	}

	return footprints, failures, nil
}

// wrapBound приводит долготу границы к [-180, 180).
func wrapBound(lon float64) float64 {
	lon = WrapLongitude(lon)
	if lon == 180 {
		return -180
	}

	return lon
}
