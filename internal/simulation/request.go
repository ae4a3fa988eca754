// Package simulation выполняет прогон по одному TLE: трасса, зоны обзора,
// проверка целевой точки и отчёт о пролётах.
package simulation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/art-injener/satscan-go/internal/tracker"
)

// Ошибки запроса.
var (
	ErrInvalidRequest  = errors.New("invalid simulation request")
	ErrUnknownRateUnit = errors.New("unknown rate unit")
	ErrNoSamples       = errors.New("no sample could be propagated")
	ErrTooManySamples  = errors.New("too many samples")
)

// BudgetError окно запроса требует больше отсчётов, чем разрешено.
type BudgetError struct {
	Samples int64
	Max     int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%v: request needs %d samples, at most %d allowed", ErrTooManySamples, e.Samples, e.Max)
}

func (e *BudgetError) Unwrap() error {
	return ErrTooManySamples
}

// StartDateLayout формат даты начала (полночь UTC).
const StartDateLayout = "02-01-2006"

// DefaultMaxSamples предел числа отсчётов одного прогона.
const DefaultMaxSamples = 1_000_000

// DefaultAreaKm сторона квадрата зоны обзора по умолчанию.
const DefaultAreaKm = 2 * tracker.DefaultFootprintHalfSizeKm

// RateUnit единица, в которой задан шаг дискретизации.
type RateUnit string

// Единицы шага.
const (
	RateSeconds RateUnit = "s"
	RateMinutes RateUnit = "min"
	RateHours   RateUnit = "h"
)

// ParseRateUnit разбирает единицу шага. Пустая строка означает секунды.
func ParseRateUnit(s string) (RateUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "s", "sec", "second", "seconds":
		return RateSeconds, nil
	case "m", "min", "minute", "minutes":
		return RateMinutes, nil
	case "h", "hour", "hours":
		return RateHours, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRateUnit, s)
	}
}

// Duration переводит значение шага в time.Duration.
func (u RateUnit) Duration(value float64) (time.Duration, error) {
	var unit time.Duration
	switch u {
	case RateSeconds, "":
		unit = time.Second
	case RateMinutes:
		unit = time.Minute
	case RateHours:
		unit = time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRateUnit, string(u))
	}

	if math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
		return 0, fmt.Errorf("%w: interval must be positive, got %g %s", tracker.ErrInvalidWindow, value, u)
	}

	d := time.Duration(value * float64(unit))
	if d <= 0 {
		return 0, fmt.Errorf("%w: interval %g %s rounds to zero", tracker.ErrInvalidWindow, value, u)
	}

	return d, nil
}

// ParseStartDate разбирает дату начала в формате ДД-ММ-ГГГГ.
func ParseStartDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(StartDateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start date %q, want DD-MM-YYYY", ErrInvalidRequest, s)
	}

	return t, nil
}

// Request параметры одного прогона.
type Request struct {
	Name  string `json:"name,omitempty"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`

	// Start начало окна. Игнорируется при FromEpoch.
	Start     time.Time `json:"start,omitzero"`
	FromEpoch bool      `json:"from_epoch,omitempty"`

	Interval      float64  `json:"interval"`
	RateUnit      RateUnit `json:"rate_unit,omitempty"`
	DurationHours float64  `json:"duration_hours"`

	// Target точка запроса; без неё проверка покрытия не выполняется.
	Target *tracker.GeoPoint `json:"target,omitempty"`

	// AreaKm сторона квадрата зоны обзора, км. 0 означает DefaultAreaKm.
	AreaKm float64 `json:"area_km,omitempty"`
}

// areaKm возвращает сторону зоны с учётом значения по умолчанию.
func (r *Request) areaKm() float64 {
	if r.AreaKm == 0 {
		return DefaultAreaKm
	}

	return r.AreaKm
}

// validate проверяет параметры, не требующие разбора TLE.
func (r *Request) validate() error {
	if r.Line1 == "" || r.Line2 == "" {
		return fmt.Errorf("%w: both TLE lines are required", ErrInvalidRequest)
	}
	if !r.FromEpoch && r.Start.IsZero() {
		return fmt.Errorf("%w: start time is required unless starting from TLE epoch", ErrInvalidRequest)
	}
	if _, err := r.duration(); err != nil {
		return err
	}
	if a := r.areaKm(); math.IsNaN(a) || math.IsInf(a, 0) || a <= 0 {
		return fmt.Errorf("%w: scan area must be positive, got %g km", ErrInvalidRequest, r.AreaKm)
	}
	if r.Target != nil {
		if err := r.Target.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// duration переводит длительность окна в time.Duration.
func (r *Request) duration() (time.Duration, error) {
	h := r.DurationHours
	if math.IsNaN(h) || math.IsInf(h, 0) || h < 0 {
		return 0, fmt.Errorf("%w: duration must be non-negative, got %g h", tracker.ErrInvalidWindow, h)
	}
	if h*float64(time.Hour) >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: duration %g h is too long", tracker.ErrInvalidWindow, h)
	}

	return time.Duration(h * float64(time.Hour)), nil
}

// SampleCount возвращает число отсчётов окна floor(D/I) + 1, не разбирая TLE.
func (r *Request) SampleCount() (int64, error) {
	interval, err := r.RateUnit.Duration(r.Interval)
	if err != nil {
		return 0, err
	}

	duration, err := r.duration()
	if err != nil {
		return 0, err
	}

	return int64(duration/interval) + 1, nil
}

// CheckBudget возвращает *BudgetError, если окно требует больше limit отсчётов.
// Невалидные параметры окна пропускаются: их отклонит прогон.
func (r *Request) CheckBudget(limit int) error {
	n, err := r.SampleCount()
	if err != nil || n <= int64(limit) {
		return nil
	}

	return &BudgetError{Samples: n, Max: limit}
}

// window строит окно дискретизации для TLE.
func (r *Request) window(tle *tracker.TLE) (tracker.Window, error) {
	interval, err := r.RateUnit.Duration(r.Interval)
	if err != nil {
		return tracker.Window{}, err
	}

	duration, err := r.duration()
	if err != nil {
		return tracker.Window{}, err
	}

	start := r.Start
	if r.FromEpoch {
		start = tle.Epoch
	}

	w := tracker.Window{
		Start:    start.UTC(),
		Interval: interval,
		Duration: duration,
	}

	return w, w.Validate()
}

// LiveRequest запрос текущего положения.
type LiveRequest struct {
	Name  string `json:"name,omitempty"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}
