// Package celestrak загружает TLE спутника с Celestrak по каталожному номеру.
package celestrak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/art-injener/satscan-go/internal/tracker"
)

const (
	// BaseURL GP API, отдаёт TLE по CATNR.
	BaseURL = "https://celestrak.org/NORAD/elements/gp.php"

	DefaultRateLimit  = 2 * time.Second // не чаще одного запроса за интервал
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = time.Second // первая пауза, каждая следующая вдвое дольше

	userAgent = "satscan/1.0 (+https://github.com/art-injener/satscan-go)"

	// noDataBody ответ Celestrak при отсутствии данных.
	noDataBody = "No GP data found"
)

// Ответы Celestrak, после которых TLE не получен.
var (
	ErrNotFound    = errors.New("satellite not found")
	ErrRateLimited = errors.New("rate limited (429)")
	ErrServer      = errors.New("server error")
	ErrStatus      = errors.New("unexpected status")
)

// Client HTTP клиент для загрузки TLE с Celestrak.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	rateLimit   time.Duration
	maxRetries  int
	backoff     time.Duration
	logger      *slog.Logger
	lastRequest time.Time
	mu          sync.Mutex
}

// Option функция настройки клиента.
type Option func(*Client)

// WithTimeout задаёт таймаут одного HTTP запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit задаёт минимальную паузу между запросами. 0 отключает ограничение.
func WithRateLimit(d time.Duration) Option {
	return func(c *Client) {
		c.rateLimit = d
	}
}

// WithMaxRetries задаёт число повторов после первой неудачной попытки.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoff устанавливает начальную паузу между попытками.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.backoff = d
	}
}

// WithBaseURL подменяет адрес API, например зеркалом или httptest.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLogger логгер для клиента.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient создаёт клиент с таймаутом, лимитом и повторами по умолчанию.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		baseURL:    BaseURL,
		rateLimit:  DefaultRateLimit,
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NoradURL возвращает URL для загрузки по NORAD ID.
func (c *Client) NoradURL(noradID int) string {
	return fmt.Sprintf("%s?CATNR=%d&FORMAT=TLE", c.baseURL, noradID)
}

// FetchByNoradID загружает TLE по NORAD ID.
func (c *Client) FetchByNoradID(ctx context.Context, noradID int) (*tracker.TLE, error) {
	data, err := c.fetch(ctx, c.NoradURL(noradID))
	if err != nil {
		return nil, fmt.Errorf("fetching NORAD ID %d: %w", noradID, err)
	}

	tles, err := tracker.ParseTLEBatch(data)
	if err != nil {
		return nil, fmt.Errorf("parsing TLE: %w", err)
	}

	if len(tles) == 0 {
		return nil, fmt.Errorf("%w: NORAD ID %d", ErrNotFound, noradID)
	}

	tle := tles[0]
	if tle.NoradID != noradID {
		return nil, fmt.Errorf("%w: requested NORAD ID %d, got %d", ErrNotFound, noradID, tle.NoradID)
	}

	c.logger.DebugContext(ctx, "fetched TLE from Celestrak",
		"norad_id", noradID,
		"name", tle.Name,
		"epoch", tle.Epoch.Format(time.RFC3339),
	)

	return tle, nil
}

// fetch делает запрос с повторами. 404 и прочие 4xx кроме 429 не повторяются.
// Каждая попытка проходит через ограничитель частоты.
func (c *Client) fetch(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			pause := c.backoff << (attempt - 1)
			c.logger.DebugContext(ctx, "retrying Celestrak request",
				"attempt", attempt,
				"backoff", pause,
				"error", lastErr,
			)

			if err := sleep(ctx, pause); err != nil {
				return "", err
			}
		}

		if err := c.waitForRateLimit(ctx); err != nil {
			return "", err
		}

		data, err := c.doRequest(ctx, url)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatus) || ctx.Err() != nil {
			return "", err
		}

		lastErr = err
	}

	return "", fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitForRateLimit выдерживает паузу rateLimit с предыдущего запроса.
// Мьютекс держится на время ожидания, поэтому конкурентные вызовы идут по очереди.
func (c *Client) waitForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.rateLimit - time.Since(c.lastRequest); wait > 0 {
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	c.lastRequest = time.Now()

	return nil
}

// doRequest выполняет один HTTP запрос.
func (c *Client) doRequest(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %d", ErrServer, resp.StatusCode)
	default:
		return "", fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	// Неизвестный номер приходит как 200 с телом noDataBody.
	if strings.TrimSpace(string(body)) == noDataBody {
		return "", ErrNotFound
	}

	return string(body), nil
}
