package tracker

import (
	"fmt"
	"math"
	"time"
)

// Эллипсоид WGS84, км.
const (
	WGS84A   = 6378.137                // большая полуось
	WGS84F   = 1.0 / 298.257223563     // сжатие
	WGS84B   = WGS84A * (1.0 - WGS84F) // малая полуось
	WGS84E2  = WGS84F * (2 - WGS84F)   // e²
	WGS84EP2 = WGS84E2 / (1.0 - WGS84E2)
)

// Параметры Земли и угловые множители.
const (
	MuEarth         = 398600.4418 // км³/с²
	MeanEarthRadius = 6371.0      // км, для размеров зоны обзора
	OmegaEarth      = 7.292115e-5 // рад/с

	Deg2Rad = math.Pi / 180.0
	Rad2Deg = 180.0 / math.Pi
)

const (
	// j2000 юлианская дата эпохи J2000.0.
	j2000 = 2451545.0

	// bowringMaxIterations ограничивает итерации Bowring при обращении эллипсоида.
	bowringMaxIterations = 10
	bowringTolerance     = 1e-12
)

// ECEFPosition точка во вращающейся вместе с Землёй системе, км.
type ECEFPosition struct {
	X, Y, Z float64
	Time    time.Time
}

// LLA широта и долгота в радианах, высота над эллипсоидом в км.
// Для внешнего представления используется Geodetic.
type LLA struct {
	Lat, Lon, Alt float64
}

// Geodetic геодезические координаты в градусах (готово для JSON/UI).
type Geodetic struct {
	Lat float64 `json:"lat"` // Широта, градусы (-90..+90).
	Lon float64 `json:"lon"` // Долгота, градусы (-180..+180).
	Alt float64 `json:"alt"` // Высота над эллипсоидом, км.
}

// AER направление от наблюдателя: азимут от севера по часовой и угол места в радианах, дальность в км.
type AER struct {
	Az, El, Range float64
}

// JulianDate переводит время UTC в юлианскую дату с учётом наносекунд.
func JulianDate(t time.Time) float64 {
	t = t.UTC()

	y := float64(t.Year())
	m := float64(t.Month())
	d := float64(t.Day())
	h := float64(t.Hour())
	minute := float64(t.Minute())
	s := float64(t.Second()) + float64(t.Nanosecond())/1e9

	// Январь и февраль считаются 13 и 14 месяцами предыдущего года.
	if m <= 2 {
		y--
		m += 12
	}

	a := math.Floor(y / 100)
	b := 2 - a + math.Floor(a/4)

	jd := math.Floor(365.25*(y+4716)) + math.Floor(30.6001*(m+1)) + d + b - 1524.5
	jd += (h + minute/60.0 + s/3600.0) / 24.0

	return jd
}

// EarthRotationAngle рассчитывает Greenwich Mean Sidereal Time (IAU-82) в радианах, [0, 2π).
// Используется для преобразования ECI -> ECEF.
func EarthRotationAngle(t time.Time) float64 {
	tUT1 := (JulianDate(t) - j2000) / 36525.0

	// GMST в секундах времени; 876600 ч = 3155760000 с.
	gmstSec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	gmstSec = math.Mod(gmstSec, 86400.0)
	if gmstSec < 0 {
		gmstSec += 86400.0
	}

	return NormalizeAngle(gmstSec / 86400.0 * 2.0 * math.Pi)
}

// rotateZ поворачивает вектор (x, y) на угол -theta вокруг оси Z.
func rotateZ(x, y, theta float64) (float64, float64) {
	sin, cos := math.Sincos(theta)
	return x*cos + y*sin, y*cos - x*sin
}

// ECIToECEF поворачивает положение TEME на угол вращения Земли в момент state.Time.
func ECIToECEF(state OrbitalState) ECEFPosition {
	x, y := rotateZ(state.Position.X, state.Position.Y, EarthRotationAngle(state.Time))

	return ECEFPosition{X: x, Y: y, Z: state.Position.Z, Time: state.Time}
}

// ECEFToECI обратный поворот. Скорость не восстанавливается.
func ECEFToECI(ecef ECEFPosition) OrbitalState {
	x, y := rotateZ(ecef.X, ecef.Y, -EarthRotationAngle(ecef.Time))

	return OrbitalState{Time: ecef.Time, Position: Vector3{X: x, Y: y, Z: ecef.Z}}
}

// primeVertical радиус кривизны первого вертикала на широте с синусом sinLat.
func primeVertical(sinLat float64) float64 {
	return WGS84A / math.Sqrt(1.0-WGS84E2*sinLat*sinLat)
}

// LLAToECEF переводит геодезические координаты (радианы) в ECEF.
func LLAToECEF(lla LLA) ECEFPosition {
	sinLat, cosLat := math.Sincos(lla.Lat)
	sinLon, cosLon := math.Sincos(lla.Lon)
	n := primeVertical(sinLat)

	return ECEFPosition{
		X: (n + lla.Alt) * cosLat * cosLon,
		Y: (n + lla.Alt) * cosLat * sinLon,
		Z: (n*(1.0-WGS84E2) + lla.Alt) * sinLat,
	}
}

// ECEFToLLA обращает эллипсоид методом Bowring, не больше bowringMaxIterations шагов.
func ECEFToLLA(ecef ECEFPosition) LLA {
	rho := math.Hypot(ecef.X, ecef.Y)
	lat := math.Atan2(ecef.Z, rho*(1.0-WGS84E2))

	for i := 0; i < bowringMaxIterations; i++ {
		sinLat := math.Sin(lat)
		next := math.Atan2(ecef.Z+WGS84E2*primeVertical(sinLat)*sinLat, rho)
		done := math.Abs(next-lat) < bowringTolerance
		lat = next
		if done {
			break
		}
	}

	sinLat, cosLat := math.Sincos(lat)
	n := primeVertical(sinLat)

	// На полюсе rho/cos вырождается, высота считается по Z.
	alt := rho/cosLat - n
	if math.Abs(cosLat) <= 1e-10 {
		alt = math.Abs(ecef.Z)/math.Abs(sinLat) - n*(1.0-WGS84E2)
	}

	return LLA{Lat: lat, Lon: math.Atan2(ecef.Y, ecef.X), Alt: alt}
}

// ToGeodetic переводит инерциальное состояние в геодезические координаты на момент state.Time.
// Возвращает ErrInvalidState для нулевого или неконечного вектора положения.
func ToGeodetic(state OrbitalState) (Geodetic, error) {
	if !state.Position.IsFinite() {
		return Geodetic{}, fmt.Errorf("%w: non-finite position %v", ErrInvalidState, state.Position)
	}
	if state.Position.Norm() == 0 {
		return Geodetic{}, fmt.Errorf("%w: zero position vector", ErrInvalidState)
	}

	lla := ECEFToLLA(ECIToECEF(state))

	return Geodetic{
		Lat: lla.LatDeg(),
		Lon: WrapLongitude(lla.LonDeg()),
		Alt: lla.Alt,
	}, nil
}

// WrapLongitude приводит долготу в градусах к диапазону [-180, 180].
// Значения внутри диапазона возвращаются без изменений.
func WrapLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}

	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}

	return lon - 180
}

// ellipsoidRadius возвращает расстояние от центра до поверхности эллипсоида WGS84
// по синусу геоцентрической широты.
func ellipsoidRadius(sinLat float64) float64 {
	sin2 := sinLat * sinLat
	cos2 := 1 - sin2

	return WGS84A * WGS84B / math.Sqrt(WGS84B*WGS84B*cos2+WGS84A*WGS84A*sin2)
}

// ECEFToAER возвращает направление от наблюдателя obs (его геодезия obsLLA) на цель target.
// Совпадающие точки дают зенит.
func ECEFToAER(target, obs ECEFPosition, obsLLA LLA) AER {
	d := Vector3{X: target.X - obs.X, Y: target.Y - obs.Y, Z: target.Z - obs.Z}

	dist := d.Norm()
	if dist == 0 {
		return AER{El: math.Pi / 2}
	}

	// Локальный базис east-north-up наблюдателя.
	sinLat, cosLat := math.Sincos(obsLLA.Lat)
	sinLon, cosLon := math.Sincos(obsLLA.Lon)

	east := d.Y*cosLon - d.X*sinLon
	horiz := d.X*cosLon + d.Y*sinLon
	north := d.Z*cosLat - horiz*sinLat
	up := d.Z*sinLat + horiz*cosLat

	return AER{
		Az:    NormalizeAngle(math.Atan2(east, north)),
		El:    math.Asin(math.Max(-1, math.Min(1, up/dist))),
		Range: dist,
	}
}

// LookAngle вычисляет AER от точки на поверхности до спутника с заданными геодезическими координатами.
func LookAngle(observer GeoPoint, sat Geodetic) AER {
	obsLLA := NewLLAFromDegrees(observer.Lat, observer.Lon, 0)
	satLLA := NewLLAFromDegrees(sat.Lat, sat.Lon, sat.Alt)

	return ECEFToAER(LLAToECEF(satLLA), LLAToECEF(obsLLA), obsLLA)
}

// NewLLAFromDegrees переводит градусы в LLA.
func NewLLAFromDegrees(latDeg, lonDeg, altKm float64) LLA {
	return LLA{Lat: latDeg * Deg2Rad, Lon: lonDeg * Deg2Rad, Alt: altKm}
}

func (lla LLA) LatDeg() float64 { return lla.Lat * Rad2Deg }
func (lla LLA) LonDeg() float64 { return lla.Lon * Rad2Deg }

// ECEF возвращает положение точки в ECEF.
func (g Geodetic) ECEF() ECEFPosition {
	return LLAToECEF(NewLLAFromDegrees(g.Lat, g.Lon, g.Alt))
}

func (aer AER) AzDeg() float64 { return aer.Az * Rad2Deg }
func (aer AER) ElDeg() float64 { return aer.El * Rad2Deg }
