package tracker

import (
	"errors"
	"math"
	"testing"
	"time"
)

// surfaceDistanceKm расстояние по дуге большого круга на сфере MeanEarthRadius.
func surfaceDistanceKm(a, b GeoPoint) float64 {
	lat1, lat2 := a.Lat*Deg2Rad, b.Lat*Deg2Rad
	dLat := lat2 - lat1
	dLon := (b.Lon - a.Lon) * Deg2Rad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)

	return 2 * MeanEarthRadius * math.Asin(math.Sqrt(h))
}

func TestGeoPoint_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		p       GeoPoint
		wantErr bool
	}{
		{p: GeoPoint{Lat: 0, Lon: 0}},
		{p: GeoPoint{Lat: 90, Lon: 180}},
		{p: GeoPoint{Lat: -90, Lon: -180}},
		{p: GeoPoint{Lat: 90.01, Lon: 0}, wantErr: true},
		{p: GeoPoint{Lat: -91, Lon: 0}, wantErr: true},
		{p: GeoPoint{Lat: 0, Lon: 180.5}, wantErr: true},
		{p: GeoPoint{Lat: 0, Lon: -200}, wantErr: true},
		{p: GeoPoint{Lat: math.NaN(), Lon: 0}, wantErr: true},
		{p: GeoPoint{Lat: 0, Lon: math.Inf(1)}, wantErr: true},
	}

	for _, tt := range tests {
		err := tt.p.Validate()
		if tt.wantErr != (err != nil) {
			t.Errorf("Validate(%v) error = %v, wantErr %v", tt.p, err, tt.wantErr)
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidPoint) {
			t.Errorf("Validate(%v) error = %v, want ErrInvalidPoint", tt.p, err)
		}
	}
}

func TestQuery_InvalidPoint(t *testing.T) {
	t.Parallel()

	res, err := Query(nil, GeoPoint{Lat: 100})
	if !errors.Is(err, ErrInvalidPoint) {
		t.Fatalf("Query() error = %v, want ErrInvalidPoint", err)
	}
	if res != nil {
		t.Error("Query() returned result with error")
	}
}

func TestQuery_Empty(t *testing.T) {
	t.Parallel()

	fps := []Footprint{
		{Index: 0, Center: GeoPoint{Lat: 50, Lon: 50}, HalfWidth: 1, HalfHeight: 1},
	}

	res, err := Query(fps, GeoPoint{Lat: 0, Lon: 0})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if res.Covered() || res.Count() != 0 || res.Matches == nil {
		t.Errorf("result = %+v, want empty non-nil matches", res)
	}
	if res.Passes() != nil {
		t.Error("empty result must have no passes")
	}

	var nilResult *ScanResult
	if nilResult.Count() != 0 || nilResult.Covered() {
		t.Error("nil result must be empty")
	}
}

func TestQuery_OrderAndPasses(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	point := GeoPoint{Lat: 10, Lon: 10}

	fp := func(idx int, dLat float64) Footprint {
		return Footprint{
			Index:      idx,
			Time:       base.Add(time.Duration(idx) * 10 * time.Second),
			Center:     GeoPoint{Lat: 10 + dLat, Lon: 10},
			Alt:        700,
			HalfWidth:  0.9,
			HalfHeight: 0.9,
		}
	}

	// Порядок на входе перемешан; индекс 5 не содержит точку.
	fps := []Footprint{fp(8, 0.3), fp(2, 0.5), fp(1, 0.8), fp(7, -0.1), fp(3, 0), fp(5, 3), fp(9, 0.6)}

	res, err := Query(fps, point)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	wantOrder := []int{1, 2, 3, 7, 8, 9}
	if res.Count() != len(wantOrder) {
		t.Fatalf("Count() = %d, want %d", res.Count(), len(wantOrder))
	}
	for i, m := range res.Matches {
		if m.Footprint.Index != wantOrder[i] {
			t.Errorf("match %d has index %d, want %d", i, m.Footprint.Index, wantOrder[i])
		}
		if !m.Time.Equal(m.Footprint.Time) {
			t.Errorf("match %d time mismatch", i)
		}
	}

	passes := res.Passes()
	if len(passes) != 2 {
		t.Fatalf("Passes() = %d, want 2", len(passes))
	}

	first, second := passes[0], passes[1]
	if !first.Start.Equal(base.Add(10*time.Second)) || !first.End.Equal(base.Add(30*time.Second)) {
		t.Errorf("first pass = %v .. %v", first.Start, first.End)
	}
	if first.Duration() != 20*time.Second || len(first.Matches) != 3 {
		t.Errorf("first pass duration %v, %d matches", first.Duration(), len(first.Matches))
	}
	if second.Duration() != 20*time.Second || len(second.Matches) != 3 {
		t.Errorf("second pass duration %v, %d matches", second.Duration(), len(second.Matches))
	}

	// Максимальный угол места в отсчёте прямо над точкой (индекс 3).
	if !almostEqual(first.MaxElevation, 90, 1e-6) {
		t.Errorf("first pass MaxElevation = %v, want 90", first.MaxElevation)
	}
	if second.MaxElevation >= 90 || second.MaxElevation < 80 {
		t.Errorf("second pass MaxElevation = %v", second.MaxElevation)
	}
}

func TestQuery_StableForEqualTimes(t *testing.T) {
	t.Parallel()

	tm := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	box := func(idx int) Footprint {
		return Footprint{Index: idx, Time: tm, Center: GeoPoint{}, HalfWidth: 1, HalfHeight: 1}
	}

	res, err := Query([]Footprint{box(3), box(1), box(2)}, GeoPoint{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	for i, want := range []int{3, 1, 2} {
		if res.Matches[i].Footprint.Index != want {
			t.Errorf("match %d index %d, want %d", i, res.Matches[i].Footprint.Index, want)
		}
	}
}

// TestScan_SunSynchronousEquator: экваториальная точка и солнечно-синхронный спутник за сутки.
// Пролётов немного, каждый не длиннее диагонали зоны, делённой на скорость подспутниковой точки.
func TestScan_SunSynchronousEquator(t *testing.T) {
	t.Parallel()

	const interval = 10 * time.Second

	tle := circularTLE(t, 90002, 700, 98.19, 80)
	track, err := newTestSampler(t, tle, Window{Start: tle.Epoch, Interval: interval, Duration: 24 * time.Hour}).Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(track.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", track.Failures)
	}

	fps, failures, err := DefaultFootprintCalculator().Footprints(track)
	if err != nil || len(failures) != 0 {
		t.Fatalf("Footprints() = %v, %d failures", err, len(failures))
	}

	// Минимальная скорость подспутниковой точки по трассе.
	speed := math.Inf(1)
	for i := 1; i < len(track.Samples); i++ {
		d := surfaceDistanceKm(track.Samples[i-1].SubSatellitePoint(), track.Samples[i].SubSatellitePoint())
		speed = math.Min(speed, d/interval.Seconds())
	}
	if speed < 5.5 || speed > 8 {
		t.Fatalf("ground speed %.3f km/s out of expected range", speed)
	}

	diagonalKm := 2 * math.Sqrt2 * DefaultFootprintHalfSizeKm
	maxPass := time.Duration(diagonalKm/speed*float64(time.Second)) + interval

	// Точка строго под одним из отсчётов у экватора гарантированно покрыта.
	nearest := track.Samples[0]
	for _, s := range track.Samples {
		if math.Abs(s.Lat) < math.Abs(nearest.Lat) {
			nearest = s
		}
	}

	points := map[string]GeoPoint{
		"fixed equatorial point": {Lat: 0, Lon: 0},
		"sub-satellite point":    nearest.SubSatellitePoint(),
	}

	for name, point := range points {
		res, err := Query(fps, point)
		if err != nil {
			t.Fatalf("%s: Query() error = %v", name, err)
		}

		passes := res.Passes()
		if len(passes) > 4 {
			t.Errorf("%s: %d passes in 24h, expected a small bounded number", name, len(passes))
		}

		for i, p := range passes {
			if p.End.Before(p.Start) {
				t.Errorf("%s: pass %d ends before it starts", name, i)
			}
			if p.Duration() > maxPass {
				t.Errorf("%s: pass %d lasts %v, longer than %v", name, i, p.Duration(), maxPass)
			}
			if p.MaxElevation < 70 {
				t.Errorf("%s: pass %d max elevation %.2f° too low for a 200 km box", name, i, p.MaxElevation)
			}
		}

		t.Logf("%s: %d matches, %d passes (max pass %v)", name, res.Count(), len(passes), maxPass)
	}

	res, err := Query(fps, nearest.SubSatellitePoint())
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !res.Covered() {
		t.Error("sub-satellite point must be covered at least once")
	}
}
