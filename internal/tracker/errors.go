package tracker

import (
	"errors"
	"fmt"
	"time"
)

// Таксономия ошибок ядра.
// Ошибки параметров (TLE, окно, точка) возвращаются сразу и без частичных результатов.
// Численные ошибки (расходимость, распад, полярная особенность) относятся к отдельному
// отсчёту и не прерывают прогон. ErrInvalidState означает нарушение внутренней согласованности,
// прогон прерывается.
var (
	ErrMalformedTLE          = errors.New("malformed TLE")
	ErrInvalidWindow         = errors.New("invalid sampling window")
	ErrInvalidPoint          = errors.New("invalid query point")
	ErrPropagationDivergence = errors.New("propagation diverged")
	ErrDecayedOrbit          = errors.New("orbit decayed")
	ErrPolarSingularity      = errors.New("footprint polar singularity")
	ErrInvalidState          = errors.New("invalid orbital state")
)

// Stage определяет этап конвейера, на котором отсчёт не удался.
type Stage string

const (
	StagePropagation Stage = "propagation"
	StageGeodetic    Stage = "geodetic"
	StageFootprint   Stage = "footprint"
)

// SampleFailure фиксирует отсутствующий отсчёт вместе с причиной.
type SampleFailure struct {
	Index int       // Позиция в последовательности.
	Time  time.Time // Время отсчёта.
	Stage Stage     // Этап, на котором произошла ошибка.
	Err   error     // Причина (оборачивает одну из ошибок таксономии).
}

func (f *SampleFailure) Error() string {
	return fmt.Sprintf("sample %d at %s (%s): %v",
		f.Index, f.Time.UTC().Format(time.RFC3339Nano), f.Stage, f.Err)
}

func (f *SampleFailure) Unwrap() error {
	return f.Err
}

// Reason возвращает короткое имя причины для метрик и отчётов.
func (f *SampleFailure) Reason() string {
	return ReasonOf(f.Err)
}

// ReasonOf сопоставляет ошибку с именем из таксономии.
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPropagationDivergence):
		return "propagation_divergence"
	case errors.Is(err, ErrDecayedOrbit):
		return "decayed_orbit"
	case errors.Is(err, ErrPolarSingularity):
		return "polar_singularity"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrMalformedTLE):
		return "malformed_tle"
	case errors.Is(err, ErrInvalidWindow):
		return "invalid_window"
	case errors.Is(err, ErrInvalidPoint):
		return "invalid_point"
	default:
		return "unknown"
	}
}
