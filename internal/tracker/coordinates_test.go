package tracker

import (
	"errors"
	"math"
	"testing"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Допуски: км и градусы.
const (
	toleranceCoord  = 1e-6
	toleranceDegree = 1e-4
)

func almostEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) < tolerance
}

// angleDiff возвращает разность углов в радианах, приведённую к [-π, π].
func angleDiff(a, b float64) float64 {
	return math.Remainder(a-b, 2*math.Pi)
}

// TestWGS84Constants сверяет производные параметры эллипсоида со справочными значениями.
func TestWGS84Constants(t *testing.T) {
	t.Parallel()

	for name, c := range map[string]struct{ got, want, tol float64 }{
		"b":   {WGS84B, 6356.752314245, 1e-9},
		"e2":  {WGS84E2, 0.00669437999014, 1e-14},
		"ep2": {WGS84EP2, 0.00673949674228, 1e-14},
	} {
		if !almostEqual(c.got, c.want, c.tol) {
			t.Errorf("%s = %.14f, want %.14f", name, c.got, c.want)
		}
	}

	if !almostEqual(ellipsoidRadius(0), WGS84A, 1e-9) {
		t.Errorf("equatorial radius = %v, want %v", ellipsoidRadius(0), WGS84A)
	}
	if !almostEqual(ellipsoidRadius(1), WGS84B, 1e-9) {
		t.Errorf("polar radius = %v, want %v", ellipsoidRadius(1), WGS84B)
	}
}

// TestJulianDate проверяет расчёт юлианской даты.
func TestJulianDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		time     time.Time
		expected float64
	}{
		{
			name:     "J2000.0 epoch",
			time:     time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
			expected: 2451545.0,
		},
		{
			name:     "1 Jan 2024 midnight",
			time:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			expected: 2460310.5,
		},
		{
			name:     "non-UTC location",
			time:     time.Date(2024, 1, 1, 3, 0, 0, 0, time.FixedZone("MSK", 3*3600)),
			expected: 2460310.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if jd := JulianDate(tt.time); !almostEqual(jd, tt.expected, 1e-9) {
				t.Errorf("JulianDate(%v) = %.9f, expected %.9f", tt.time, jd, tt.expected)
			}
		})
	}

	// Дробные секунды учитываются.
	base := time.Date(2024, 3, 10, 5, 6, 7, 0, time.UTC)
	delta := (JulianDate(base.Add(500*time.Millisecond)) - JulianDate(base)) * 86400
	if !almostEqual(delta, 0.5, 1e-4) {
		t.Errorf("half second = %.6f s in JD", delta)
	}
}

// TestJulianDate_MatchesLibrary сверяет юлианскую дату с go-satellite.
func TestJulianDate_MatchesLibrary(t *testing.T) {
	t.Parallel()

	for _, tm := range []time.Time{
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2019, 7, 31, 23, 59, 59, 0, time.UTC),
		time.Date(2031, 2, 28, 6, 30, 15, 0, time.UTC),
	} {
		want := satellite.JDay(tm.Year(), int(tm.Month()), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
		if got := JulianDate(tm); !almostEqual(got, want, 1e-8) {
			t.Errorf("JulianDate(%v) = %.9f, go-satellite %.9f", tm, got, want)
		}
	}
}

// TestEarthRotationAngle сверяет GMST с go-satellite.
func TestEarthRotationAngle(t *testing.T) {
	t.Parallel()

	for _, tm := range []time.Time{
		time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 15, 3, 17, 42, 0, time.UTC),
		time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		got := EarthRotationAngle(tm)
		if got < 0 || got >= 2*math.Pi {
			t.Errorf("EarthRotationAngle(%v) = %v, want [0, 2π)", tm, got)
		}

		want := satellite.GSTimeFromDate(tm.Year(), int(tm.Month()), tm.Day(), tm.Hour(), tm.Minute(), tm.Second())
		if d := angleDiff(got, want); math.Abs(d) > 1e-8 {
			t.Errorf("EarthRotationAngle(%v) = %.10f, go-satellite %.10f", tm, got, want)
		}
	}

	// Звёздные сутки короче солнечных: за 24 ч угол растёт на ~0.9856°.
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	step := angleDiff(EarthRotationAngle(t0.Add(24*time.Hour)), EarthRotationAngle(t0)) * Rad2Deg
	if !almostEqual(step, 0.9856, 1e-3) {
		t.Errorf("daily GMST advance = %.5f°, want ~0.9856°", step)
	}
}

// TestECIToECEF_MatchesLibrary сверяет поворот ECI → ECEF с go-satellite.
func TestECIToECEF_MatchesLibrary(t *testing.T) {
	t.Parallel()

	tm := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	state := OrbitalState{Time: tm, Position: Vector3{X: -4400.594, Y: 1932.870, Z: 4760.712}}

	got := ECIToECEF(state)

	gmst := satellite.GSTimeFromDate(2024, 1, 15, 12, 0, 0)
	want := satellite.ECIToECEF(satellite.Vector3{X: state.Position.X, Y: state.Position.Y, Z: state.Position.Z}, gmst)

	if !almostEqual(got.X, want.X, 1e-4) || !almostEqual(got.Y, want.Y, 1e-4) || !almostEqual(got.Z, want.Z, 1e-9) {
		t.Errorf("ECIToECEF = (%.6f, %.6f, %.6f), go-satellite (%.6f, %.6f, %.6f)",
			got.X, got.Y, got.Z, want.X, want.Y, want.Z)
	}
}

// TestECIToECEF_AndBack: прямой и обратный поворот возвращают исходный вектор и время.
func TestECIToECEF_AndBack(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	for name, pos := range map[string]Vector3{
		"leo":   {X: -4400.594, Y: 1932.870, Z: 4760.712},
		"geo":   {X: 42164.0},
		"polar": {Z: 7000.0},
		"south": {X: 1200, Y: -3100, Z: -6000},
	} {
		back := ECEFToECI(ECIToECEF(OrbitalState{Time: at, Position: pos}))

		d := Vector3{X: back.Position.X - pos.X, Y: back.Position.Y - pos.Y, Z: back.Position.Z - pos.Z}
		if d.Norm() > toleranceCoord {
			t.Errorf("%s: round trip %v -> %v", name, pos, back.Position)
		}
		if !back.Time.Equal(at) {
			t.Errorf("%s: time %v, want %v", name, back.Time, at)
		}
	}
}

// TestLLAToECEF_AndBack: обращение Bowring восстанавливает исходную точку, включая полюса и GEO.
func TestLLAToECEF_AndBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		lat, lon, alt float64
	}{
		{name: "baikonur", lat: 45.92, lon: 63.342, alt: 0.09},
		{name: "null island", lat: 0, lon: 0, alt: 0},
		{name: "north pole", lat: 90, lon: 0, alt: 0},
		{name: "south pole, 2 km", lat: -90, lon: 0, alt: 2},
		{name: "antimeridian", lat: -33.5, lon: 180, alt: 1},
		{name: "western hemisphere", lat: 19.4, lon: -99.1, alt: 2.24},
		{name: "leo", lat: 51.6, lon: -140, alt: 420},
		{name: "geo", lat: 0, lon: 105, alt: 35786},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := ECEFToLLA(LLAToECEF(NewLLAFromDegrees(tt.lat, tt.lon, tt.alt)))

			if !almostEqual(got.LatDeg(), tt.lat, toleranceDegree) {
				t.Errorf("lat = %v, want %v", got.LatDeg(), tt.lat)
			}
			if !almostEqual(got.Alt, tt.alt, toleranceCoord) {
				t.Errorf("alt = %v km, want %v km", got.Alt, tt.alt)
			}

			// На полюсе долгота произвольна; 180 и -180 считаются одной точкой.
			if math.Abs(tt.lat) < 89 {
				if d := math.Remainder(got.LonDeg()-tt.lon, 360); math.Abs(d) > toleranceDegree {
					t.Errorf("lon = %v, want %v", got.LonDeg(), tt.lon)
				}
			}
		})
	}
}

// TestToGeodetic проверяет перевод инерциального состояния в геодезические координаты.
func TestToGeodetic(t *testing.T) {
	t.Parallel()

	tm := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	gmst := EarthRotationAngle(tm)

	// Точка в плоскости экватора под гринвичским меридианом на момент tm.
	sinG, cosG := math.Sincos(gmst)
	state := OrbitalState{Time: tm, Position: Vector3{X: 7000 * cosG, Y: 7000 * sinG}}

	geo, err := ToGeodetic(state)
	if err != nil {
		t.Fatalf("ToGeodetic() error = %v", err)
	}

	if !almostEqual(geo.Lat, 0, 1e-9) || !almostEqual(geo.Lon, 0, 1e-9) {
		t.Errorf("ToGeodetic() = (%v, %v), want (0, 0)", geo.Lat, geo.Lon)
	}
	if !almostEqual(geo.Alt, 7000-WGS84A, 1e-6) {
		t.Errorf("Alt = %v, want %v", geo.Alt, 7000-WGS84A)
	}

	// Тот же вектор через 6 часов: Земля повернулась на ~90.25° к востоку.
	later, err := ToGeodetic(OrbitalState{Time: tm.Add(6 * time.Hour), Position: state.Position})
	if err != nil {
		t.Fatalf("ToGeodetic() error = %v", err)
	}
	if !almostEqual(later.Lon, -90.2464, 0.01) {
		t.Errorf("Lon after 6h = %v, want ~-90.25", later.Lon)
	}
}

// TestToGeodetic_InvalidState проверяет отказ на нулевом и неконечном векторе.
func TestToGeodetic_InvalidState(t *testing.T) {
	t.Parallel()

	for name, pos := range map[string]Vector3{
		"zero": {},
		"NaN":  {X: math.NaN(), Y: 1, Z: 1},
		"Inf":  {X: 1, Y: math.Inf(-1), Z: 1},
	} {
		_, err := ToGeodetic(OrbitalState{Time: time.Unix(0, 0), Position: pos})
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("%s: ToGeodetic() error = %v, want ErrInvalidState", name, err)
		}
	}
}

// TestWrapLongitude проверяет приведение долготы.
func TestWrapLongitude(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want float64 }{
		{0, 0},
		{180, 180},
		{-180, -180},
		{190, -170},
		{-190, 170},
		{360, 0},
		{725, 5},
		{-540, -180},
	}

	for _, tt := range tests {
		if got := WrapLongitude(tt.in); !almostEqual(got, tt.want, 1e-9) {
			t.Errorf("WrapLongitude(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// TestECEFToAER_Directions проверяет азимуты по сторонам света и зенит.
func TestECEFToAER_Directions(t *testing.T) {
	t.Parallel()

	obs := NewLLAFromDegrees(45.92, 63.342, 0)
	obsECEF := LLAToECEF(obs)

	tests := []struct {
		name   string
		target LLA
		az     float64
	}{
		{name: "north", target: NewLLAFromDegrees(50, 63.342, 500), az: 0},
		{name: "east", target: NewLLAFromDegrees(45.92, 68, 500), az: 90},
		{name: "south", target: NewLLAFromDegrees(40, 63.342, 500), az: 180},
		{name: "west", target: NewLLAFromDegrees(45.92, 58, 500), az: 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			aer := ECEFToAER(LLAToECEF(tt.target), obsECEF, obs)

			if d := angleDiff(aer.Az, tt.az*Deg2Rad) * Rad2Deg; math.Abs(d) > 5 {
				t.Errorf("azimuth = %.2f°, want ~%v°", aer.AzDeg(), tt.az)
			}
			if aer.Az < 0 || aer.Az >= 2*math.Pi {
				t.Errorf("azimuth %v not in [0, 2π)", aer.Az)
			}
			if aer.ElDeg() <= 0 || aer.ElDeg() >= 90 || aer.Range <= 500 {
				t.Errorf("el = %.2f°, range = %.1f km", aer.ElDeg(), aer.Range)
			}
		})
	}

	zenith := ECEFToAER(LLAToECEF(NewLLAFromDegrees(45.92, 63.342, 400)), obsECEF, obs)
	if !almostEqual(zenith.ElDeg(), 90, 1e-4) || !almostEqual(zenith.Range, 400, 1e-6) {
		t.Errorf("overhead AER = %+v", zenith)
	}

	if same := ECEFToAER(obsECEF, obsECEF, obs); same.Range != 0 || !almostEqual(same.ElDeg(), 90, 1e-9) {
		t.Errorf("coincident AER = %+v", same)
	}
}

// TestLookAngle проверяет угол места с поверхности на спутник.
func TestLookAngle(t *testing.T) {
	t.Parallel()

	observer := GeoPoint{Lat: 10, Lon: 20}

	overhead := LookAngle(observer, Geodetic{Lat: 10, Lon: 20, Alt: 700})
	if !almostEqual(overhead.ElDeg(), 90, 1e-4) || !almostEqual(overhead.Range, 700, 1e-6) {
		t.Errorf("overhead AER = El %.6f°, Range %.6f km", overhead.ElDeg(), overhead.Range)
	}

	// Спутник на краю зоны 100 км на высоте 700 км: угол места ~81.9°.
	edge := LookAngle(observer, Geodetic{Lat: 10 + 100/MeanEarthRadius*Rad2Deg, Lon: 20, Alt: 700})
	if edge.ElDeg() < 80 || edge.ElDeg() > 84 {
		t.Errorf("edge elevation = %.3f°, want ~82°", edge.ElDeg())
	}
	if edge.AzDeg() > 1 && edge.AzDeg() < 359 {
		t.Errorf("edge azimuth = %.3f°, want ~0° (north)", edge.AzDeg())
	}
}

// TestKnownECEFToLLA: точки на поверхности эллипсоида по осям.
func TestKnownECEFToLLA(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ecef     ECEFPosition
		lat, lon float64
	}{
		{name: "x axis", ecef: ECEFPosition{X: WGS84A}, lat: 0, lon: 0},
		{name: "y axis", ecef: ECEFPosition{Y: WGS84A}, lat: 0, lon: 90},
		{name: "negative x", ecef: ECEFPosition{X: -WGS84A}, lat: 0, lon: 180},
		{name: "north pole", ecef: ECEFPosition{Z: WGS84B}, lat: 90},
		{name: "south pole", ecef: ECEFPosition{Z: -WGS84B}, lat: -90},
	}

	for _, tt := range tests {
		lla := ECEFToLLA(tt.ecef)

		if !almostEqual(lla.LatDeg(), tt.lat, toleranceDegree) || !almostEqual(lla.LonDeg(), tt.lon, toleranceDegree) {
			t.Errorf("%s: (%v, %v), want (%v, %v)", tt.name, lla.LatDeg(), lla.LonDeg(), tt.lat, tt.lon)
		}
		if !almostEqual(lla.Alt, 0, 1e-3) {
			t.Errorf("%s: alt = %v km, want 0", tt.name, lla.Alt)
		}
	}
}

// TestDegreeConversions проверяет переводы единиц у LLA, AER и Geodetic.
func TestDegreeConversions(t *testing.T) {
	t.Parallel()

	lla := NewLLAFromDegrees(-30, 135, 2)
	aer := AER{Az: 3 * math.Pi / 2, El: math.Pi / 6, Range: 10}

	for name, c := range map[string][2]float64{
		"lat": {lla.LatDeg(), -30},
		"lon": {lla.LonDeg(), 135},
		"az":  {aer.AzDeg(), 270},
		"el":  {aer.ElDeg(), 30},
	} {
		if !almostEqual(c[0], c[1], 1e-10) {
			t.Errorf("%s = %v, want %v", name, c[0], c[1])
		}
	}

	g := Geodetic{Lat: 45, Lon: 90, Alt: 100}
	if ecef := g.ECEF(); !almostEqual(ecef.X, 0, 1e-9) || ecef.Y <= 0 || ecef.Z <= 0 {
		t.Errorf("Geodetic.ECEF() = %+v", ecef)
	}
}

func BenchmarkECIToECEF(b *testing.B) {
	state := OrbitalState{
		Time:     time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
		Position: Vector3{X: -4400.594, Y: 1932.870, Z: 4760.712},
	}

	for b.Loop() {
		ECIToECEF(state)
	}
}

func BenchmarkECEFToLLA(b *testing.B) {
	ecef := ECEFPosition{X: 1000.0, Y: 2000.0, Z: 6000.0}

	for b.Loop() {
		ECEFToLLA(ecef)
	}
}
