package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iudanet/authgate/internal/server/handlers"
	"github.com/iudanet/authgate/internal/server/httperr"
	"github.com/iudanet/authgate/internal/server/metrics"
	"github.com/iudanet/authgate/internal/server/tokens"
)

// DefaultSweepInterval период фоновой очистки неактивных ключей
const DefaultSweepInterval = 5 * time.Minute

// unknownAddr подставляется, когда адрес клиента определить не удалось
const unknownAddr = "unknown"

// Decision результат проверки лимита
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // через сколько освободится место, только при отказе
}

// SlidingWindowLimiter ограничивает число запросов на ключ алгоритмом sliding window log.
// Для каждого ключа хранятся точные времена принятых запросов за последнее окно.
// Проверка, подсчет и запись выполняются под одним mutex.
type SlidingWindowLimiter struct {
	entries       map[string][]time.Time
	logger        *slog.Logger
	now           func() time.Time
	stopC         chan struct{}
	window        time.Duration
	sweepInterval time.Duration
	mu            sync.Mutex
	stopOnce      sync.Once
}

// LimiterOption настраивает SlidingWindowLimiter
type LimiterOption func(*SlidingWindowLimiter)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) LimiterOption {
	return func(l *SlidingWindowLimiter) {
		l.now = now
	}
}

// WithSweepInterval задает период фоновой очистки, 0 выключает ее
func WithSweepInterval(interval time.Duration) LimiterOption {
	return func(l *SlidingWindowLimiter) {
		l.sweepInterval = interval
	}
}

// NewSlidingWindowLimiter создает limiter с окном window
func NewSlidingWindowLimiter(window time.Duration, logger *slog.Logger, opts ...LimiterOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		entries:       make(map[string][]time.Time),
		logger:        logger,
		now:           time.Now,
		stopC:         make(chan struct{}),
		window:        window,
		sweepInterval: DefaultSweepInterval,
	}

	for _, opt := range opts {
		opt(l)
	}

	// Запускаем периодическую очистку неактивных ключей
	if l.sweepInterval > 0 {
		go l.sweepLoop()
	}

	return l
}

// CheckLimit сообщает, принят ли запрос для key при лимите limit.
// Отклоненный запрос не записывается.
func (l *SlidingWindowLimiter) CheckLimit(key string, limit int) bool {
	return l.Check(key, limit).Allowed
}

// Check выполняет проверку и возвращает подробное решение
func (l *SlidingWindowLimiter) Check(key string, limit int) Decision {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := prune(l.entries[key], cutoff)

	if len(ts) >= limit {
		retryAfter := l.window
		if len(ts) > 0 {
			l.entries[key] = ts
			retryAfter = ts[0].Add(l.window).Sub(now)
		} else {
			delete(l.entries, key)
		}

		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	ts = append(ts, now)
	l.entries[key] = ts

	return Decision{Allowed: true, Remaining: limit - len(ts)}
}

// Sweep удаляет ключи, у которых не осталось запросов в окне.
// Возвращает число удаленных ключей.
func (l *SlidingWindowLimiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, ts := range l.entries {
		if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}

	return removed
}

// Len возвращает число отслеживаемых ключей
func (l *SlidingWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop останавливает фоновую очистку
func (l *SlidingWindowLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopC)
	})
}

func (l *SlidingWindowLimiter) sweepLoop() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				l.logger.Debug("rate limiter keys swept", slog.Int("removed", removed))
			}
		case <-l.stopC:
			return
		}
	}
}

// prune отбрасывает времена <= cutoff. Времена упорядочены по возрастанию.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// RateLimitConfig лимиты для аутентифицированных и анонимных клиентов
type RateLimitConfig struct {
	AuthenticatedLimit int
	AnonymousLimit     int
	// TrustProxyHeaders разрешает брать адрес из X-Forwarded-For и X-Real-IP
	TrustProxyHeaders bool
}

// RateLimitMiddleware ограничивает частоту запросов.
// Ключ "user:<id>" используется только для валидного access token,
// иначе "ip:<addr>". Невалидный токен здесь не отклоняется.
func RateLimitMiddleware(limiter *SlidingWindowLimiter, verifier tokens.Verifier, cfg RateLimitConfig, logger *slog.Logger, rec metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, limit, kind := rateLimitKey(r, verifier, cfg)

			d := limiter.Check(key, limit)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				logger.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("kind", kind),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				rec.RecordRateLimited(kind)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.RetryAfter)))
				httperr.Write(w, r, logger, httperr.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimitKey возвращает ключ, лимит и вид ключа для метрик
func rateLimitKey(r *http.Request, verifier tokens.Verifier, cfg RateLimitConfig) (string, int, string) {
	if userID, err := handlers.VerifyBearer(r, verifier); err == nil {
		return "user:" + userID, cfg.AuthenticatedLimit, metrics.RateLimitUser
	}

	return "ip:" + clientIP(r, cfg.TrustProxyHeaders), cfg.AnonymousLimit, metrics.RateLimitIP
}

// clientIP извлекает IP адрес клиента из запроса.
// Заголовки прокси учитываются только при trustProxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Берем первый IP из списка (реальный клиент)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if r.RemoteAddr == "" {
		return unknownAddr
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr без порта
		return r.RemoteAddr
	}
	if host == "" {
		return unknownAddr
	}

	return host
}

func retryAfterSeconds(d time.Duration) int {
	sec := int(math.Ceil(d.Seconds()))
	if sec < 1 {
		sec = 1
	}
	return sec
}
