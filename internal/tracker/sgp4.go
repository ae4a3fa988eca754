package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Ошибки конструирования пропагатора.
var (
	ErrInvalidTLEForPropagation = errors.New("invalid TLE for propagation")
	ErrNilTLE                   = errors.New("TLE is nil")
	ErrUnknownModel             = errors.New("unknown propagation model")
)

// Model определяет модель пропагации.
type Model int

const (
	// ModelSGP4 SGP4/SDP4 (библиотека go-satellite), стандарт для TLE.
	ModelSGP4 Model = iota
	// ModelKepler задача двух тел с вековыми поправками J2.
	ModelKepler
)

// String возвращает имя модели.
func (m Model) String() string {
	switch m {
	case ModelSGP4:
		return "sgp4"
	case ModelKepler:
		return "kepler"
	default:
		return "model(" + strconv.Itoa(int(m)) + ")"
	}
}

// ParseModel разбирает имя модели ("sgp4", "kepler").
func ParseModel(s string) (Model, error) {
	switch s {
	case "", "sgp4":
		return ModelSGP4, nil
	case "kepler":
		return ModelKepler, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownModel, s)
	}
}

// GravityModel определяет модель гравитации для SGP4.
type GravityModel int

const (
	// GravityWGS72 модель WGS-72 (стандарт для TLE).
	GravityWGS72 GravityModel = iota
	// GravityWGS84 модель WGS-84 (более точная).
	GravityWGS84
)

// ParseGravity разбирает имя модели гравитации ("wgs72", "wgs84").
func ParseGravity(s string) (GravityModel, error) {
	switch s {
	case "", "wgs84":
		return GravityWGS84, nil
	case "wgs72":
		return GravityWGS72, nil
	default:
		return 0, fmt.Errorf("unknown gravity model %q", s)
	}
}

// Vector3 вектор в декартовой системе координат.
type Vector3 struct {
	X float64
	Y float64
	Z float64
}

// Norm возвращает длину вектора.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// IsFinite сообщает, что все компоненты конечны.
func (v Vector3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

func (v Vector3) lerp(to Vector3, w float64) Vector3 {
	return Vector3{
		X: v.X + (to.X-v.X)*w,
		Y: v.Y + (to.Y-v.Y)*w,
		Z: v.Z + (to.Z-v.Z)*w,
	}
}

// OrbitalState представляет позицию и скорость спутника в инерциальной системе (TEME).
// Координаты в километрах, скорости в км/с. Создаётся заново на каждый запрос.
type OrbitalState struct {
	Time     time.Time
	Position Vector3 // км
	Velocity Vector3 // км/с
}

// Propagator выполняет расчёт положения спутника на заданный момент времени.
// После создания не изменяется и безопасен для конкурентного использования.
type Propagator struct {
	tle       *TLE                // Исходный TLE.
	model     Model               // Модель пропагации.
	gravity   GravityModel        // Модель гравитации (для SGP4).
	satellite satellite.Satellite // Внутренняя структура go-satellite.
	epochLag  time.Duration       // Дробная секунда эпохи, которую go-satellite отбрасывает.
	kepler    *keplerElements     // Элементы для ModelKepler.
}

// PropagatorOption функция настройки Propagator.
type PropagatorOption func(*Propagator)

// WithModel устанавливает модель пропагации.
func WithModel(m Model) PropagatorOption {
	return func(p *Propagator) {
		p.model = m
	}
}

// WithGravity устанавливает модель гравитации SGP4.
func WithGravity(g GravityModel) PropagatorOption {
	return func(p *Propagator) {
		p.gravity = g
	}
}

// NewPropagator создаёт Propagator из TLE.
// По умолчанию: SGP4, гравитация WGS84.
func NewPropagator(tle *TLE, opts ...PropagatorOption) (*Propagator, error) {
	if tle == nil {
		return nil, ErrNilTLE
	}

	if tle.Line1 == "" || tle.Line2 == "" {
		return nil, fmt.Errorf("%w: missing Line1 or Line2", ErrInvalidTLEForPropagation)
	}

	if len(tle.Line1) != TLELineLength || len(tle.Line2) != TLELineLength {
		return nil, fmt.Errorf("%w: lines must be %d characters", ErrInvalidTLEForPropagation, TLELineLength)
	}

	p := &Propagator{
		tle:     tle,
		model:   ModelSGP4,
		gravity: GravityWGS84,
	}

	for _, opt := range opts {
		opt(p)
	}

	switch p.model {
	case ModelSGP4:
		if err := p.initSGP4(); err != nil {
			return nil, err
		}
	case ModelKepler:
		if tle.MeanMotion <= 0 || tle.Eccentricity < 0 || tle.Eccentricity >= 1 {
			return nil, fmt.Errorf("%w: mean motion %v, eccentricity %v",
				ErrInvalidTLEForPropagation, tle.MeanMotion, tle.Eccentricity)
		}
		p.kepler = newKeplerElements(tle)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownModel, p.model)
	}

	return p, nil
}

// initSGP4 инициализирует go-satellite.
// go-satellite завершает процесс через log.Fatal на некорректных полях,
// поэтому сюда попадают только строки, прошедшие ParseTLELines.
func (p *Propagator) initSGP4() error {
	gravConst := satellite.GravityWGS84
	if p.gravity == GravityWGS72 {
		gravConst = satellite.GravityWGS72
	}

	line1, line2 := libraryLines(p.tle.Line1, p.tle.Line2)

	sat := satellite.TLEToSat(line1, line2, gravConst)
	if sat.Error != 0 {
		return fmt.Errorf("%w: sgp4 init code=%d %s", classifySGP4Error(int(sat.Error)), sat.Error, sat.ErrorStr)
	}

	p.satellite = sat
	p.epochLag = p.tle.Epoch.Sub(libraryEpoch(p.tle.Line1))

	return nil
}

// libraryEpoch повторяет расчёт эпохи в go-satellite: день года раскладывается
// на часы, минуты и секунды во float64, секунды усекаются до целых.
// Строка должна пройти ParseTLELines.
func libraryEpoch(line1 string) time.Time {
	yy, _ := strconv.Atoi(line1[18:20])
	year := 2000 + yy
	if yy >= 57 {
		year = 1900 + yy
	}

	days, _ := strconv.ParseFloat(line1[20:32], 64)

	dayOfYear := math.Floor(days)
	temp := (days - dayOfYear) * 24
	hour := math.Floor(temp)
	temp = (temp - hour) * 60
	minute := math.Floor(temp)
	sec := (temp - minute) * 60

	return time.Date(year, time.January, int(dayOfYear), int(hour), int(minute), int(sec), 0, time.UTC)
}

// libraryLines заменяет Alpha-5 номер на числовой: go-satellite читает номер через strconv.
// Номер спутника в модели не участвует.
func libraryLines(line1, line2 string) (string, string) {
	if !isAlpha5(line1[2:7]) && !isAlpha5(line2[2:7]) {
		return line1, line2
	}

	fix := func(line string) string {
		body := line[:2] + "00000" + line[7:TLELineLength-1]
		return body + strconv.Itoa(calculateChecksum(body))
	}

	return fix(line1), fix(line2)
}

// classifySGP4Error сопоставляет коды ошибок SGP4 с таксономией.
//
//	1: средние элементы вне допустимых значений (e >= 1, a < 0.95 er)
//	2: отрицательное среднее движение
//	3: возмущённый эксцентриситет вне [0, 1]
//	4: отрицательный фокальный параметр
//	5: элементы эпохи суборбитальны
//	6: спутник сошёл с орбиты
//
// При коде 4 go-satellite не вычисляет положение, и радиус остаётся нулевым,
// поэтому библиотека тут же перезаписывает его кодом 6. Оба означают сход с орбиты.
func classifySGP4Error(code int) error {
	switch code {
	case 1, 4, 5, 6:
		return ErrDecayedOrbit
	default:
		return ErrPropagationDivergence
	}
}

// Propagate рассчитывает положение спутника на указанное время.
// Возвращает позицию и скорость в инерциальной системе (TEME).
// Для одинаковых (TLE, t) результат побитно совпадает.
func (p *Propagator) Propagate(t time.Time) (OrbitalState, error) {
	if p == nil {
		return OrbitalState{}, ErrNilTLE
	}

	var (
		state OrbitalState
		err   error
	)

	switch p.model {
	case ModelKepler:
		state, err = p.kepler.propagate(t)
	default:
		state = p.propagateSGP4(t)
	}

	if err != nil {
		return OrbitalState{}, err
	}

	if err := checkPhysical(state); err != nil {
		return OrbitalState{}, fmt.Errorf("%s at %s: %w", p.model, t.UTC().Format(time.RFC3339Nano), err)
	}

	return state, nil
}

// propagateSGP4 вызывает go-satellite. Библиотека принимает только целые секунды
// и отсчитывает время от эпохи, усечённой до секунды. Время сдвигается на epochLag,
// а дробная часть восполняется кубической интерполяцией Эрмита по положению и скорости
// в соседних секундах (для НОО погрешность порядка миллиметров).
func (p *Propagator) propagateSGP4(t time.Time) OrbitalState {
	t = t.UTC()
	lib := t.Add(-p.epochLag)
	base := lib.Truncate(time.Second)
	frac := lib.Sub(base)

	pos0, vel0 := p.sgp4At(base)
	if frac == 0 {
		return OrbitalState{Time: t, Position: pos0, Velocity: vel0}
	}

	pos1, vel1 := p.sgp4At(base.Add(time.Second))

	return OrbitalState{
		Time:     t,
		Position: hermite(pos0, vel0, pos1, vel1, frac.Seconds()),
		Velocity: vel0.lerp(vel1, frac.Seconds()),
	}
}

// hermite интерполирует положение на отрезке в одну секунду, w в [0, 1).
// Скорости в км/с совпадают с производной по w.
func hermite(p0, v0, p1, v1 Vector3, w float64) Vector3 {
	w2, w3 := w*w, w*w*w
	h00 := 2*w3 - 3*w2 + 1
	h10 := w3 - 2*w2 + w
	h01 := -2*w3 + 3*w2
	h11 := w3 - w2

	return Vector3{
		X: h00*p0.X + h10*v0.X + h01*p1.X + h11*v1.X,
		Y: h00*p0.Y + h10*v0.Y + h01*p1.Y + h11*v1.Y,
		Z: h00*p0.Z + h10*v0.Z + h01*p1.Z + h11*v1.Z,
	}
}

// sgp4At вызывает go-satellite на целую секунду. Библиотека получает Satellite
// по значению, и код ошибки расчёта наружу не попадает: результат проверяет checkPhysical.
func (p *Propagator) sgp4At(t time.Time) (Vector3, Vector3) {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	position, velocity := satellite.Propagate(
		p.satellite,
		year, int(month), day,
		hour, minute, sec,
	)

	return Vector3{X: position.X, Y: position.Y, Z: position.Z},
		Vector3{X: velocity.X, Y: velocity.Y, Z: velocity.Z}
}

// checkPhysical отбраковывает нефизичные состояния:
// неконечные значения дают ErrPropagationDivergence, точка внутри эллипсоида даёт ErrDecayedOrbit.
func checkPhysical(state OrbitalState) error {
	if !state.Position.IsFinite() || !state.Velocity.IsFinite() {
		return fmt.Errorf("%w: state contains NaN/Inf", ErrPropagationDivergence)
	}

	r := state.Position.Norm()
	if r == 0 {
		return fmt.Errorf("%w: zero radius", ErrDecayedOrbit)
	}

	if surface := ellipsoidRadius(state.Position.Z / r); r < surface {
		return fmt.Errorf("%w: radius %.3f km below surface %.3f km", ErrDecayedOrbit, r, surface)
	}

	return nil
}

// TLE возвращает исходный TLE.
func (p *Propagator) TLE() *TLE {
	if p == nil {
		return nil
	}

	return p.tle
}

// Model возвращает используемую модель пропагации.
func (p *Propagator) Model() Model {
	return p.model
}

// GravityModel возвращает используемую модель гравитации.
func (p *Propagator) GravityModel() GravityModel {
	if p == nil {
		return GravityWGS84
	}

	return p.gravity
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// String возвращает строковое представление OrbitalState.
func (s OrbitalState) String() string {
	return fmt.Sprintf("ECI[%.3f, %.3f, %.3f km] V[%.6f, %.6f, %.6f km/s] @ %s",
		s.Position.X, s.Position.Y, s.Position.Z,
		s.Velocity.X, s.Velocity.Y, s.Velocity.Z,
		s.Time.UTC().Format(time.RFC3339),
	)
}

// Magnitude возвращает расстояние от центра Земли в километрах.
func (s OrbitalState) Magnitude() float64 {
	return s.Position.Norm()
}

// Speed возвращает скорость спутника в км/с.
func (s OrbitalState) Speed() float64 {
	return s.Velocity.Norm()
}
