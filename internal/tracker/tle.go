// Package tracker реализует ядро расчёта: парсинг TLE, пропагацию орбиты,
// перевод в геодезические координаты, наземную трассу, зоны обзора и поиск
// моментов, когда точка на Земле попадает в зону обзора спутника.
//
// Пакет не обращается к часам, сети и файловой системе: время всегда
// передаётся явно, а все операции являются чистыми функциями входных данных.
package tracker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Детализация ErrMalformedTLE. Каждая из них возвращается обёрнутой вместе с ErrMalformedTLE.
var (
	ErrInvalidTLEFormat  = errors.New("invalid TLE format")
	ErrInvalidChecksum   = errors.New("invalid TLE checksum")
	ErrInvalidLineNumber = errors.New("invalid TLE line number")
	ErrLineLength        = errors.New("invalid TLE line length")
	ErrNoradIDMismatch   = errors.New("NORAD ID mismatch between lines")
	ErrInvalidAlpha5     = errors.New("invalid Alpha-5 NORAD ID format")
	ErrInvalidField      = errors.New("invalid TLE field")
	ErrValueOutOfRange   = errors.New("TLE value out of range")
)

// alpha5Map: буква Alpha-5 -> старшие разряды номера (A=10 ... Z=33).
// I и O пропущены, чтобы не путать их с 1 и 0.
var alpha5Map = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22,
	'P': 23, 'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 30,
	'X': 31, 'Y': 32, 'Z': 33,
}

// TLE проверенный набор элементов орбиты одного спутника.
// Создаётся только через ParseTLE/ParseTLELines и дальше не меняется.
// Описание формата: https://celestrak.org/NORAD/documentation/tle-fmt.php
type TLE struct {
	Name string // строка 0, может быть пустой

	// Строка 1.
	NoradID        int
	Classification string // U, C или S
	IntlDesignator string // COSPAR, YYnnnAAA
	Epoch          time.Time
	MeanMotionDot  float64 // ṅ/2, об/сут²
	MeanMotionDot2 float64 // n̈/6, об/сут³
	Bstar          float64 // 1/радиус Земли
	EphemerisType  int
	ElementSetNo   int

	// Строка 2. Углы в градусах.
	Inclination  float64
	RAAN         float64
	Eccentricity float64
	ArgOfPerigee float64
	MeanAnomaly  float64
	MeanMotion   float64 // об/сут
	RevNumber    int

	// Исходные строки без изменений, их принимает SGP4.
	Line1 string
	Line2 string
}

// TLEKey идентифицирует набор элементов: каталожный номер + эпоха.
type TLEKey struct {
	NoradID int
	Epoch   time.Time
}

const (
	// TLELineLength длина строки элементов вместе с контрольной цифрой.
	TLELineLength = 69

	minutesPerDay = 1440.0

	// maxFieldPadding число ведущих пробелов, которое снимает go-satellite с числового поля.
	maxFieldPadding = 2

	// exponentFieldLength ширина полей n̈/6 и B*.
	exponentFieldLength = 8
)

// Позиции обязательных пробелов-разделителей между полями (0-based).
var (
	line1Separators = []int{1, 8, 17, 32, 43, 52, 61, 63}
	line2Separators = []int{1, 7, 16, 25, 33, 42, 51}
)

// malformed оборачивает детальную ошибку вместе с ErrMalformedTLE.
func malformed(detail error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrMalformedTLE, detail, fmt.Sprintf(format, args...))
}

// ParseTLE разбирает запись из двух строк элементов или из трёх, если первой идёт имя.
func ParseTLE(lines []string) (*TLE, error) {
	if len(lines) < 2 {
		return nil, malformed(ErrInvalidTLEFormat, "need at least 2 lines, got %d", len(lines))
	}

	head := strings.TrimSpace(lines[0])
	switch {
	case head == "":
		return nil, malformed(ErrInvalidTLEFormat, "first line is empty")
	case isElementLine(head, '1'):
		return ParseTLELines("", head, lines[1])
	case isElementLine(head, '2'):
		return nil, malformed(ErrInvalidTLEFormat, "expected Line1, got Line2")
	case len(lines) < 3:
		return nil, malformed(ErrInvalidTLEFormat, "3-line format requires 3 lines, got %d", len(lines))
	}

	return ParseTLELines(head, lines[1], lines[2])
}

// ParseTLEBatch разбирает текст из нескольких записей подряд, пустые строки пропускаются.
// Ошибка в любой записи отменяет весь результат.
func ParseTLEBatch(data string) ([]*TLE, error) {
	var lines []string
	for _, l := range strings.Split(data, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	var tles []*TLE
	for pos := 0; pos < len(lines); {
		size := 3
		if isElementLine(lines[pos], '1') {
			size = 2
		}
		if pos+size > len(lines) {
			return nil, malformed(ErrInvalidTLEFormat, "record %d is incomplete", len(tles)+1)
		}

		tle, err := ParseTLE(lines[pos : pos+size])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(tles)+1, err)
		}

		tles = append(tles, tle)
		pos += size
	}

	return tles, nil
}

// isElementLine отличает строку элементов от строки имени: имя тоже может
// начинаться с цифры ("1HOPSAT").
func isElementLine(line string, number byte) bool {
	return len(line) == TLELineLength && line[0] == number && line[1] == ' '
}

// ParseTLELines выполняет строгий парсинг пары строк TLE.
// Поля извлекаются по фиксированным позициям, каждое значение проверяется на формат и диапазон.
// При любой ошибке возвращается ошибка, совместимая с ErrMalformedTLE, и nil.
func ParseTLELines(name, line1, line2 string) (*TLE, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != TLELineLength {
		return nil, malformed(ErrLineLength, "Line1 length %d, need %d", len(line1), TLELineLength)
	}
	if len(line2) != TLELineLength {
		return nil, malformed(ErrLineLength, "Line2 length %d, need %d", len(line2), TLELineLength)
	}

	if line1[0] != '1' {
		return nil, malformed(ErrInvalidLineNumber, "Line1 starts with %c, expected 1", line1[0])
	}
	if line2[0] != '2' {
		return nil, malformed(ErrInvalidLineNumber, "Line2 starts with %c, expected 2", line2[0])
	}

	if !validateChecksum(line1) {
		return nil, malformed(ErrInvalidChecksum, "Line1")
	}
	if !validateChecksum(line2) {
		return nil, malformed(ErrInvalidChecksum, "Line2")
	}

	if err := checkSeparators(line1, line1Separators); err != nil {
		return nil, malformed(ErrInvalidField, "Line1: %v", err)
	}
	if err := checkSeparators(line2, line2Separators); err != nil {
		return nil, malformed(ErrInvalidField, "Line2: %v", err)
	}

	tle := &TLE{
		Name:  strings.TrimSpace(name),
		Line1: line1,
		Line2: line2,
	}

	if err := parseLine1(tle, line1); err != nil {
		return nil, malformed(ErrInvalidField, "Line1: %v", err)
	}
	if err := parseLine2(tle, line2); err != nil {
		return nil, malformed(ErrInvalidField, "Line2: %v", err)
	}

	noradID2, err := parseNoradID(strings.TrimSpace(line2[2:7]))
	if err != nil {
		return nil, malformed(ErrInvalidAlpha5, "Line2: %v", err)
	}
	if tle.NoradID != noradID2 {
		return nil, malformed(ErrNoradIDMismatch, "Line1=%d, Line2=%d", tle.NoradID, noradID2)
	}

	if err := tle.validateRanges(); err != nil {
		return nil, malformed(ErrValueOutOfRange, "%v", err)
	}

	return tle, nil
}

// checkSeparators проверяет, что между полями стоят пробелы.
func checkSeparators(line string, positions []int) error {
	for _, p := range positions {
		if line[p] != ' ' {
			return fmt.Errorf("column %d: expected space, got %q", p+1, line[p])
		}
	}

	return nil
}

// parseLine1 заполняет поля строки 1. Колонки (с единицы):
// 3-7 номер, 8 класс, 10-17 COSPAR, 19-32 эпоха, 34-43 ṅ/2, 45-52 n̈/6,
// 54-61 B*, 63 тип эфемерид, 65-68 номер набора.
func parseLine1(tle *TLE, line string) error {
	var err error

	tle.NoradID, err = parseNoradID(strings.TrimSpace(line[2:7]))
	if err != nil {
		return fmt.Errorf("NORAD ID: %w", err)
	}

	switch c := line[7]; c {
	case 'U', 'C', 'S':
		tle.Classification = string(c)
	default:
		return fmt.Errorf("classification: unexpected %q", c)
	}

	tle.IntlDesignator = strings.TrimSpace(line[9:17])

	tle.Epoch, err = parseEpoch(line[18:32])
	if err != nil {
		return fmt.Errorf("epoch: %w", err)
	}

	tle.MeanMotionDot, err = parseDecimal(line[33:43])
	if err != nil {
		return fmt.Errorf("mean motion dot: %w", err)
	}

	tle.MeanMotionDot2, err = parseExponent(line[44:52])
	if err != nil {
		return fmt.Errorf("mean motion dot2: %w", err)
	}

	tle.Bstar, err = parseExponent(line[53:61])
	if err != nil {
		return fmt.Errorf("bstar: %w", err)
	}

	tle.EphemerisType, err = parseOptionalInt(line[62:63])
	if err != nil {
		return fmt.Errorf("ephemeris type: %w", err)
	}

	tle.ElementSetNo, err = parseOptionalInt(line[64:68])
	if err != nil {
		return fmt.Errorf("element set number: %w", err)
	}

	return nil
}

// parseLine2 заполняет поля строки 2. Колонки: 9-16 i, 18-25 RAAN,
// 27-33 e без точки, 35-42 ω, 44-51 M, 53-63 n, 64-68 номер витка.
func parseLine2(tle *TLE, line string) error {
	var err error

	if tle.Inclination, err = parseDecimal(line[8:16]); err != nil {
		return fmt.Errorf("inclination: %w", err)
	}

	if tle.RAAN, err = parseDecimal(line[17:25]); err != nil {
		return fmt.Errorf("RAAN: %w", err)
	}

	ecc := line[26:33]
	if !isDigits(ecc) {
		return fmt.Errorf("eccentricity: %q is not 7 digits", ecc)
	}
	if tle.Eccentricity, err = strconv.ParseFloat("0."+ecc, 64); err != nil {
		return fmt.Errorf("eccentricity: %w", err)
	}

	if tle.ArgOfPerigee, err = parseDecimal(line[34:42]); err != nil {
		return fmt.Errorf("argument of perigee: %w", err)
	}

	if tle.MeanAnomaly, err = parseDecimal(line[43:51]); err != nil {
		return fmt.Errorf("mean anomaly: %w", err)
	}

	if tle.MeanMotion, err = parseDecimal(line[52:63]); err != nil {
		return fmt.Errorf("mean motion: %w", err)
	}

	if tle.RevNumber, err = parseOptionalInt(line[63:68]); err != nil {
		return fmt.Errorf("revolution number: %w", err)
	}

	return nil
}

// validateRanges проверяет физические диапазоны элементов.
func (tle *TLE) validateRanges() error {
	switch {
	case tle.Eccentricity < 0 || tle.Eccentricity >= 1:
		return fmt.Errorf("eccentricity %v not in [0, 1)", tle.Eccentricity)
	case tle.Inclination < 0 || tle.Inclination > 180:
		return fmt.Errorf("inclination %v not in [0, 180]", tle.Inclination)
	case tle.RAAN < 0 || tle.RAAN >= 360:
		return fmt.Errorf("RAAN %v not in [0, 360)", tle.RAAN)
	case tle.ArgOfPerigee < 0 || tle.ArgOfPerigee >= 360:
		return fmt.Errorf("argument of perigee %v not in [0, 360)", tle.ArgOfPerigee)
	case tle.MeanAnomaly < 0 || tle.MeanAnomaly >= 360:
		return fmt.Errorf("mean anomaly %v not in [0, 360)", tle.MeanAnomaly)
	case tle.MeanMotion <= 0:
		return fmt.Errorf("mean motion %v must be positive", tle.MeanMotion)
	}

	return nil
}

// validateChecksum сверяет последнюю колонку с суммой по модулю 10.
func validateChecksum(line string) bool {
	if len(line) < TLELineLength {
		return false
	}

	last := line[TLELineLength-1]

	return isDigits(string(last)) && calculateChecksum(line[:TLELineLength-1]) == int(last-'0')
}

// calculateChecksum: цифры дают своё значение, минус даёт 1, прочие знаки 0.
func calculateChecksum(line string) int {
	var sum int
	for _, r := range line {
		if r == '-' {
			sum++
		} else if r >= '0' && r <= '9' {
			sum += int(r - '0')
		}
	}

	return sum % 10
}

// parseNoradID понимает пять цифр (до 99999) и Alpha-5: буква и четыре цифры,
// A0000 = 100000 ... Z9999 = 339999.
func parseNoradID(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidAlpha5)
	}

	if !isAlpha5(s) {
		if !isDigits(s) {
			return 0, fmt.Errorf("invalid NORAD ID %q", s)
		}
		return strconv.Atoi(s)
	}

	high, ok := alpha5Map[s[0]]
	if !ok {
		return 0, fmt.Errorf("%w: invalid letter %c (I and O not allowed)", ErrInvalidAlpha5, s[0])
	}
	if len(s) != 5 || !isDigits(s[1:]) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAlpha5, s)
	}

	low, _ := strconv.Atoi(s[1:])

	return high*10000 + low, nil
}

// isAlpha5 сообщает, записан ли номер в Alpha-5 формате.
func isAlpha5(field string) bool {
	s := strings.TrimSpace(field)
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

// parseDecimal парсит поле с явной десятичной точкой ("  51.6400", " .00016717", "-.00016717").
// Значение прижато вправо: слева не больше maxFieldPadding пробелов, справа ни одного.
func parseDecimal(field string) (float64, error) {
	s := strings.TrimLeft(field, " ")
	switch {
	case s == "":
		return 0, errors.New("empty field")
	case len(field)-len(s) > maxFieldPadding:
		return 0, fmt.Errorf("%q: more than %d leading spaces", field, maxFieldPadding)
	}

	digits := strings.TrimLeft(s, "+-")
	if len(s)-len(digits) > 1 || strings.Count(digits, ".") != 1 ||
		!isDigits(strings.Replace(digits, ".", "", 1)) {
		return 0, fmt.Errorf("%q is not a decimal number", s)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, err)
	}

	return v, nil
}

// parseExponent разбирает восьмиколоночное поле с подразумеваемой точкой
// "SNNNNN±E" = S0.NNNNN·10^±E. S: пробел, плюс или минус.
func parseExponent(field string) (float64, error) {
	if len(field) != exponentFieldLength {
		return 0, fmt.Errorf("%q: need %d columns", field, exponentFieldLength)
	}

	sign, digits, expSign, expDigit := field[0], field[1:6], field[6], field[7:]
	if sign != ' ' && sign != '+' && sign != '-' {
		return 0, fmt.Errorf("%q: sign column holds %q", field, sign)
	}
	if !isDigits(digits) || !isDigits(expDigit) || (expSign != '+' && expSign != '-') {
		return 0, fmt.Errorf("%q is not in SNNNNN±E form", field)
	}

	v, err := strconv.ParseFloat("0."+digits+"e"+string(expSign)+expDigit, 64)
	if err != nil {
		return 0, fmt.Errorf("mantissa: %w", err)
	}
	if sign == '-' {
		v = -v
	}

	return v, nil
}

// parseOptionalInt парсит необязательное целое поле (пустое поле = 0).
func parseOptionalInt(field string) (int, error) {
	s := strings.TrimSpace(field)
	if s == "" {
		return 0, nil
	}
	if !isDigits(s) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}

	return strconv.Atoi(s)
}

// isDigits проверяет, что строка непуста и состоит только из цифр.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}

	return true
}

// parseEpoch разбирает YYDDD.DDDDDDDD. Годы 57-99 относятся к XX веку, 00-56 к XXI;
// день 1.0 соответствует полуночи 1 января.
func parseEpoch(field string) (time.Time, error) {
	yy := field[:2]
	if !isDigits(yy) {
		return time.Time{}, fmt.Errorf("year %q is not numeric", yy)
	}

	year, _ := strconv.Atoi(yy)
	year += 2000
	if year >= 2057 {
		year -= 100
	}

	// День года всегда DDD.DDDDDDDD с ведущими нулями.
	day := field[2:]
	if len(day) != 12 || day[3] != '.' || !isDigits(day[:3]) || !isDigits(day[4:]) {
		return time.Time{}, fmt.Errorf("day of year %q, want DDD.DDDDDDDD", day)
	}

	dayOfYear, err := strconv.ParseFloat(day, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("day of year: %w", err)
	}

	daysInYear := 365.0
	if time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC).YearDay() == 366 {
		daysInYear = 366.0
	}
	if dayOfYear < 1 || dayOfYear >= daysInYear+1 {
		return time.Time{}, fmt.Errorf("day of year %v out of range", dayOfYear)
	}

	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	return jan1.Add(time.Duration(math.Round((dayOfYear - 1) * 24 * float64(time.Hour)))), nil
}

// Key возвращает идентификатор набора элементов.
func (tle *TLE) Key() TLEKey {
	return TLEKey{NoradID: tle.NoradID, Epoch: tle.Epoch}
}

// SameElementSet сообщает, описывают ли два TLE один и тот же набор элементов
// (равенство по каталожному номеру и эпохе).
func (tle *TLE) SameElementSet(other *TLE) bool {
	if tle == nil || other == nil {
		return tle == other
	}

	return tle.NoradID == other.NoradID && tle.Epoch.Equal(other.Epoch)
}

// OrbitalPeriod период обращения, минуты.
func (tle *TLE) OrbitalPeriod() float64 {
	if tle.MeanMotion == 0 {
		return 0
	}

	return minutesPerDay / tle.MeanMotion
}

// Period возвращает орбитальный период как time.Duration.
func (tle *TLE) Period() time.Duration {
	return time.Duration(tle.OrbitalPeriod() * float64(time.Minute))
}

// SemiMajorAxis большая полуось по третьему закону Кеплера a = ∛(μ/n²), км.
func (tle *TLE) SemiMajorAxis() float64 {
	n := tle.MeanMotionRadPerSec()
	if n == 0 {
		return 0
	}

	return math.Cbrt(MuEarth / (n * n))
}

// MeanMotionRadPerSec возвращает среднее движение в рад/с.
func (tle *TLE) MeanMotionRadPerSec() float64 {
	return tle.MeanMotion * 2 * math.Pi / 86400.0
}

// Apogee высота апогея над экватором WGS84, км.
func (tle *TLE) Apogee() float64 {
	return tle.SemiMajorAxis()*(1+tle.Eccentricity) - WGS84A
}

// Perigee высота перигея, км.
func (tle *TLE) Perigee() float64 {
	return tle.SemiMajorAxis()*(1-tle.Eccentricity) - WGS84A
}

// AgeAt возвращает возраст TLE на момент now.
func (tle *TLE) AgeAt(now time.Time) time.Duration {
	return now.Sub(tle.Epoch)
}

// String возвращает исходные строки, с именем при наличии.
func (tle *TLE) String() string {
	if tle.Name == "" {
		return tle.Line1 + "\n" + tle.Line2
	}

	return strings.Join([]string{tle.Name, tle.Line1, tle.Line2}, "\n")
}
