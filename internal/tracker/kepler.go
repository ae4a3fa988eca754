package tracker

import (
	"fmt"
	"math"
	"time"
)

// MaxKeplerIterations ограничивает число итераций Ньютона при решении уравнения Кеплера.
const MaxKeplerIterations = 50

const (
	keplerTolerance = 1e-12

	// J2 вторая зональная гармоника (WGS84).
	J2 = 1.08262668e-3
)

// keplerElements средние элементы TLE в единицах СИ-км с вековыми скоростями J2.
type keplerElements struct {
	epoch time.Time

	a    float64 // Большая полуось, км.
	e    float64 // Эксцентриситет.
	incl float64 // Наклонение, рад.

	raan0 float64 // RAAN на эпоху, рад.
	argp0 float64 // Аргумент перигея на эпоху, рад.
	m0    float64 // Средняя аномалия на эпоху, рад.

	raanDot float64 // рад/с
	argpDot float64 // рад/с
	mDot    float64 // рад/с
}

func newKeplerElements(tle *TLE) *keplerElements {
	n := tle.MeanMotionRadPerSec()
	a := tle.SemiMajorAxis()
	e := tle.Eccentricity
	incl := tle.Inclination * Deg2Rad

	p := a * (1 - e*e)
	sinI := math.Sin(incl)
	k := 1.5 * J2 * (WGS84A / p) * (WGS84A / p) * n

	return &keplerElements{
		epoch:   tle.Epoch,
		a:       a,
		e:       e,
		incl:    incl,
		raan0:   tle.RAAN * Deg2Rad,
		argp0:   tle.ArgOfPerigee * Deg2Rad,
		m0:      tle.MeanAnomaly * Deg2Rad,
		raanDot: -k * math.Cos(incl),
		argpDot: k * (2 - 2.5*sinI*sinI),
		mDot:    n + k*math.Sqrt(1-e*e)*(1-1.5*sinI*sinI),
	}
}

// propagate продвигает элементы на t и переводит их в положение и скорость.
func (k *keplerElements) propagate(t time.Time) (OrbitalState, error) {
	dt := t.Sub(k.epoch).Seconds()

	raan := NormalizeAngle(k.raan0 + k.raanDot*dt)
	argp := NormalizeAngle(k.argp0 + k.argpDot*dt)
	m := NormalizeAngle(k.m0 + k.mDot*dt)

	ecc, err := SolveKepler(m, k.e)
	if err != nil {
		return OrbitalState{}, fmt.Errorf("kepler at %s: %w", t.UTC().Format(time.RFC3339Nano), err)
	}

	nu := TrueAnomaly(ecc, k.e)
	p := k.a * (1 - k.e*k.e)
	r := k.a * (1 - k.e*math.Cos(ecc))
	vf := math.Sqrt(MuEarth / p)

	// Перифокальная система (PQW).
	sinNu, cosNu := math.Sincos(nu)
	px, py := r*cosNu, r*sinNu
	vx, vy := -vf*sinNu, vf*(k.e+cosNu)

	// PQW -> инерциальная: R3(-Ω)·R1(-i)·R3(-ω).
	sinO, cosO := math.Sincos(raan)
	sinW, cosW := math.Sincos(argp)
	sinI, cosI := math.Sincos(k.incl)

	r11 := cosO*cosW - sinO*sinW*cosI
	r12 := -cosO*sinW - sinO*cosW*cosI
	r21 := sinO*cosW + cosO*sinW*cosI
	r22 := -sinO*sinW + cosO*cosW*cosI
	r31 := sinW * sinI
	r32 := cosW * sinI

	return OrbitalState{
		Time:     t.UTC(),
		Position: Vector3{X: r11*px + r12*py, Y: r21*px + r22*py, Z: r31*px + r32*py},
		Velocity: Vector3{X: r11*vx + r12*vy, Y: r21*vx + r22*vy, Z: r31*vx + r32*vy},
	}, nil
}

// SolveKepler решает уравнение Кеплера E - e·sin(E) = M методом Ньютона.
// Возвращает эксцентрическую аномалию в [0, 2π) или ErrPropagationDivergence,
// если решение не сошлось за MaxKeplerIterations шагов.
func SolveKepler(m, e float64) (float64, error) {
	return solveKepler(m, e, MaxKeplerIterations)
}

func solveKepler(m, e float64, maxIter int) (float64, error) {
	m = NormalizeAngle(m)

	ecc := m
	if e >= 0.8 {
		ecc = math.Pi
	}

	for range maxIter {
		sinE, cosE := math.Sincos(ecc)
		delta := (ecc - e*sinE - m) / (1 - e*cosE)
		ecc -= delta

		if !isFinite(ecc) {
			return 0, fmt.Errorf("%w: Kepler solver produced non-finite anomaly (M=%g, e=%g)",
				ErrPropagationDivergence, m, e)
		}

		if math.Abs(delta) < keplerTolerance {
			return NormalizeAngle(ecc), nil
		}
	}

	return 0, fmt.Errorf("%w: Kepler solver did not converge in %d iterations (M=%g, e=%g)",
		ErrPropagationDivergence, maxIter, m, e)
}

// TrueAnomaly возвращает истинную аномалию в [0, 2π) по эксцентрической.
// Квадрант определяется через atan2(√(1-e²)·sin E, cos E - e).
func TrueAnomaly(ecc, e float64) float64 {
	sinE, cosE := math.Sincos(ecc)
	return NormalizeAngle(math.Atan2(math.Sqrt(1-e*e)*sinE, cosE-e))
}

// NormalizeAngle приводит угол к диапазону [0, 2π).
func NormalizeAngle(x float64) float64 {
	x = math.Mod(x, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	if x >= 2*math.Pi {
		x = 0
	}

	return x
}
