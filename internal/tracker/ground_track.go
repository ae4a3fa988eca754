package tracker

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"time"
)

// Ошибки генерации наземной трассы спутника.
var (
	ErrNilPropagator    = errors.New("propagator is nil")
	ErrIndexOutOfWindow = errors.New("sample index out of window")
)

// Порог скачка долготы для определения пересечения антимеридиана (градусы).
const antimeridianThreshold = 270.0

// Window задаёт окно дискретизации: начало, шаг и длительность.
type Window struct {
	Start    time.Time
	Interval time.Duration // > 0
	Duration time.Duration // >= 0
}

// Validate проверяет параметры окна.
func (w Window) Validate() error {
	if w.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidWindow, w.Interval)
	}
	if w.Duration < 0 {
		return fmt.Errorf("%w: duration must be non-negative, got %v", ErrInvalidWindow, w.Duration)
	}

	return nil
}

// Len возвращает число отсчётов: floor(Duration/Interval) + 1.
func (w Window) Len() int {
	return int(w.Duration/w.Interval) + 1
}

// Time возвращает время i-го отсчёта: Start + i·Interval.
func (w Window) Time(i int) time.Time {
	return w.Start.Add(time.Duration(i) * w.Interval)
}

// End возвращает время последнего отсчёта.
func (w Window) End() time.Time {
	return w.Time(w.Len() - 1)
}

// LiveWindow окно из одного отсчёта на момент now.
func LiveWindow(now time.Time) Window {
	return Window{Start: now, Interval: time.Second}
}

// GroundSample отсчёт наземной трассы: подспутниковая точка и высота.
type GroundSample struct {
	Index int       `json:"index"` // Позиция в последовательности.
	Time  time.Time `json:"time"`  // Время отсчёта (UTC).
	Lat   float64   `json:"lat"`   // Широта, градусы (-90..+90).
	Lon   float64   `json:"lon"`   // Долгота, градусы (-180..+180).
	Alt   float64   `json:"alt"`   // Высота над эллипсоидом, км.
}

// Geodetic возвращает координаты спутника.
func (s GroundSample) Geodetic() Geodetic {
	return Geodetic{Lat: s.Lat, Lon: s.Lon, Alt: s.Alt}
}

// SubSatellitePoint возвращает подспутниковую точку.
func (s GroundSample) SubSatellitePoint() GeoPoint {
	return GeoPoint{Lat: s.Lat, Lon: s.Lon}
}

// Sampler ленивая перезапускаемая последовательность отсчётов.
// Каждый отсчёт вычисляется независимо от остальных, поэтому прогон можно
// прервать и продолжить с любого индекса без пересчёта.
type Sampler struct {
	prop   *Propagator
	window Window
}

// NewSampler создаёт Sampler для окна; ошибки окна возвращаются сразу.
func NewSampler(prop *Propagator, window Window) (*Sampler, error) {
	if prop == nil {
		return nil, ErrNilPropagator
	}

	if err := window.Validate(); err != nil {
		return nil, err
	}

	return &Sampler{prop: prop, window: window}, nil
}

// Window возвращает окно дискретизации.
func (s *Sampler) Window() Window {
	return s.window
}

// Len возвращает число отсчётов.
func (s *Sampler) Len() int {
	return s.window.Len()
}

// At вычисляет i-й отсчёт. Численные ошибки возвращаются как *SampleFailure.
func (s *Sampler) At(i int) (GroundSample, error) {
	if i < 0 || i >= s.Len() {
		return GroundSample{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfWindow, i, s.Len())
	}

	t := s.window.Time(i)

	state, err := s.prop.Propagate(t)
	if err != nil {
		return GroundSample{}, &SampleFailure{Index: i, Time: t, Stage: StagePropagation, Err: err}
	}

	geo, err := ToGeodetic(state)
	if err != nil {
		return GroundSample{}, &SampleFailure{Index: i, Time: t, Stage: StageGeodetic, Err: err}
	}

	return GroundSample{
		Index: i,
		Time:  t,
		Lat:   geo.Lat,
		Lon:   geo.Lon,
		Alt:   geo.Alt,
	}, nil
}

// All возвращает последовательность всех отсчётов окна.
func (s *Sampler) All() iter.Seq2[GroundSample, error] {
	return s.Range(0, s.Len())
}

// Range возвращает последовательность отсчётов с индексами [from, to).
// Границы обрезаются по окну.
func (s *Sampler) Range(from, to int) iter.Seq2[GroundSample, error] {
	from = max(from, 0)
	to = min(to, s.Len())

	return func(yield func(GroundSample, error) bool) {
		for i := from; i < to; i++ {
			if !yield(s.At(i)) {
				return
			}
		}
	}
}

// Collect вычисляет все отсчёты. Численные ошибки собираются в Track.Failures,
// ErrInvalidState прерывает прогон.
func (s *Sampler) Collect() (*Track, error) {
	track := &Track{
		NoradID: s.prop.TLE().NoradID,
		Window:  s.window,
		Samples: make([]GroundSample, 0, s.Len()),
	}

	for sample, err := range s.All() {
		if err != nil {
			if accErr := track.accept(err); accErr != nil {
				return nil, accErr
			}
			continue
		}

		track.Samples = append(track.Samples, sample)
	}

	return track, nil
}

// Live возвращает единственный отсчёт на момент now (режим текущего положения).
// Периодический вызов остаётся за вызывающей стороной.
func Live(prop *Propagator, now time.Time) (GroundSample, error) {
	s, err := NewSampler(prop, LiveWindow(now))
	if err != nil {
		return GroundSample{}, err
	}

	return s.At(0)
}

// Track результат дискретизации: успешные отсчёты и отсутствующие отсчёты с причинами.
type Track struct {
	NoradID  int             `json:"norad_id"`
	Window   Window          `json:"-"`
	Samples  []GroundSample  `json:"samples"`
	Failures []SampleFailure `json:"-"`
}

// accept добавляет ошибку отсчёта в Failures или возвращает её, если прогон надо прервать.
func (t *Track) accept(err error) error {
	if errors.Is(err, ErrInvalidState) {
		return err
	}

	var failure *SampleFailure
	if !errors.As(err, &failure) {
		return err
	}

	t.Failures = append(t.Failures, *failure)

	return nil
}

// Add добавляет результат отсчёта, вычисленного вне Collect (например, параллельно).
// Порядок добавления должен соответствовать индексам.
func (t *Track) Add(sample GroundSample, err error) error {
	if err != nil {
		return t.accept(err)
	}

	t.Samples = append(t.Samples, sample)

	return nil
}

// TrackPoint точка наземной трассы для 2D-отрисовки.
type TrackPoint struct {
	Lon float64 `json:"lon"` // Долгота, градусы (-180..+180).
	Lat float64 `json:"lat"` // Широта, градусы (-90..+90).
	TS  int64   `json:"ts"`  // Unix timestamp, миллисекунды.
}

// Segments разбивает трассу на сегменты по антимеридиану (для отрисовки на карте).
func (t *Track) Segments() [][]TrackPoint {
	if t == nil || len(t.Samples) == 0 {
		return nil
	}

	points := make([]TrackPoint, len(t.Samples))
	for i, s := range t.Samples {
		points[i] = TrackPoint{Lon: s.Lon, Lat: s.Lat, TS: s.Time.UnixMilli()}
	}

	return splitAtAntimeridian(points)
}

// splitAtAntimeridian разбивает массив точек на сегменты при пересечении антимеридиана (±180°).
// При пересечении добавляется интерполированная точка на границе ±180°.
func splitAtAntimeridian(points []TrackPoint) [][]TrackPoint {
	if len(points) == 0 {
		return nil
	}

	var segments [][]TrackPoint
	currentSeg := []TrackPoint{points[0]}

	for i := 1; i < len(points); i++ {
		prevLon := points[i-1].Lon
		currLon := points[i].Lon

		// Скачок долготы > 270° означает переход через ±180°.
		if math.Abs(currLon-prevLon) > antimeridianThreshold {
			boundaryPrev, boundaryNext := interpolateAntimeridian(points[i-1], points[i])

			currentSeg = append(currentSeg, boundaryPrev)
			segments = append(segments, currentSeg)

			currentSeg = []TrackPoint{boundaryNext, points[i]}
		} else {
			currentSeg = append(currentSeg, points[i])
		}
	}

	if len(currentSeg) > 0 {
		segments = append(segments, currentSeg)
	}

	return segments
}

// interpolateAntimeridian вычисляет две точки на границе ±180° при пересечении антимеридиана.
// Возвращает точку на стороне p1 и точку на стороне p2.
func interpolateAntimeridian(p1, p2 TrackPoint) (TrackPoint, TrackPoint) {
	boundaryLon1, boundaryLon2 := -180.0, 180.0
	p2LonUnwrapped := p2.Lon - 360.0

	if p1.Lon > 0 {
		// Переход: +lon → -lon (через +180°).
		boundaryLon1, boundaryLon2 = 180.0, -180.0
		p2LonUnwrapped = p2.Lon + 360.0
	}

	dLon := p2LonUnwrapped - p1.Lon
	frac := 0.5
	if math.Abs(dLon) > 1e-10 {
		frac = (boundaryLon1 - p1.Lon) / dLon
	}

	frac = math.Max(0.0, math.Min(1.0, frac))

	interpLat := p1.Lat + (p2.Lat-p1.Lat)*frac
	interpTS := p1.TS + int64(float64(p2.TS-p1.TS)*frac)

	return TrackPoint{Lon: boundaryLon1, Lat: interpLat, TS: interpTS},
		TrackPoint{Lon: boundaryLon2, Lat: interpLat, TS: interpTS}
}
