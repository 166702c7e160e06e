package resilience

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/MiloszKom/EcommerceAPI-sub000/internal/domain"
	"github.com/MiloszKom/EcommerceAPI-sub000/internal/metrics"
)

// Config конфигурация retry и circuit breaker для удалённых вызовов.
type Config struct {
	// Retry
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Circuit breaker
	BreakerInterval     time.Duration
	BreakerOpenTimeout  time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	HalfOpenProbes      uint32
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		InitialDelay:        100 * time.Millisecond,
		MaxDelay:            5 * time.Second,
		BackoffFactor:       2.0,
		BreakerInterval:     30 * time.Second,
		BreakerOpenTimeout:  10 * time.Second,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.5,
		HalfOpenProbes:      1,
	}
}

// Operation — один идемпотентный удалённый вызов.
type Operation func(ctx context.Context) error

// Caller выполняет удалённые операции под именованным circuit breaker с
// bounded retry. На каждую логическую зависимость ("cart-service",
// "catalog-service") заводится один breaker, общий для всех конкурентных
// вызовов; повторные попытки внутри одного вызова дают breaker'у ровно одно
// наблюдение — итоговый исход.
type Caller struct {
	cfg     Config
	logger  *log.Entry
	metrics *metrics.OrderMetrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewCaller создаёт Caller с метриками переходов breaker'ов.
func NewCaller(cfg Config, logger *log.Entry) *Caller {
	c := newCaller(cfg, logger)
	c.metrics = metrics.NewOrderMetrics()
	return c
}

// NewCallerWithoutMetrics создаёт Caller без метрик (для тестов).
func NewCallerWithoutMetrics(cfg Config, logger *log.Entry) *Caller {
	return newCaller(cfg, logger)
}

func newCaller(cfg Config, logger *log.Entry) *Caller {
	if logger == nil {
		logger = log.New().WithField("component", "resilient-call")
	}
	return &Caller{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Do выполняет операцию под circuit breaker зависимости dependency.
// Структурные ошибки удалённого сервиса (not found, insufficient stock)
// возвращаются без изменений; при открытом circuit или исчерпанных попытках
// возвращается RemoteUnavailableError.
func (c *Caller) Do(ctx context.Context, dependency string, op Operation) error {
	return c.DoWithFallback(ctx, dependency, op, nil)
}

// DoWithFallback как Do, но при отказе зависимости выполняет fallback
// вместо возврата RemoteUnavailableError.
func (c *Caller) DoWithFallback(ctx context.Context, dependency string, op Operation, fallback Operation) error {
	br := c.breaker(dependency)

	_, err := br.Execute(func() (interface{}, error) {
		return nil, c.withRetry(ctx, dependency, br, op)
	})
	if err == nil {
		return nil
	}

	// Семантика удалённого сервиса окончательна, маскировать её нельзя.
	if domain.IsRemoteBusinessError(err) {
		return err
	}

	// Вызывающая сторона уже отказалась от запроса. Проверяем именно контекст
	// вызова: ошибка per-attempt таймаута HTTP-клиента тоже проходит
	// errors.Is(err, context.DeadlineExceeded), но отказом вызывающего не является.
	if ctx.Err() != nil {
		return err
	}

	if fallback != nil {
		c.logger.WithError(err).WithField("dependency", dependency).Warn("remote call failed, using fallback")
		return fallback(ctx)
	}

	return &domain.RemoteUnavailableError{Dependency: dependency, Err: err}
}

// State возвращает текущее состояние circuit breaker зависимости.
func (c *Caller) State(dependency string) gobreaker.State {
	return c.breaker(dependency).State()
}

// withRetry повторяет транзиентные сбои с экспоненциальной задержкой.
// Выполняется внутри Execute, поэтому breaker видит только итоговый исход.
func (c *Caller) withRetry(ctx context.Context, dependency string, br *gobreaker.CircuitBreaker, op Operation) error {
	var lastErr error
	delay := c.cfg.InitialDelay

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"dependency": dependency,
					"attempt":    attempt,
				}).Info("remote call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		// Структурные ошибки не транзиентны: повтор не изменит ответ.
		if domain.IsRemoteBusinessError(err) {
			return err
		}
		// Таймаут одной попытки (http.Client.Timeout) транзиентен и ретраится;
		// прерываемся только когда истёк контекст самого вызова.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.cfg.MaxAttempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"dependency": dependency,
			"attempt":    attempt,
			"delay":      delay,
		}).Warn("remote call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * c.cfg.BackoffFactor)
		if delay > c.cfg.MaxDelay {
			delay = c.cfg.MaxDelay
		}

		// Конкурентные вызовы могли открыть circuit — дальше не пробуем.
		if br.State() == gobreaker.StateOpen {
			break
		}
	}

	return lastErr
}

// breaker возвращает (лениво создавая) breaker зависимости.
func (c *Caller) breaker(dependency string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if br, ok := c.breakers[dependency]; ok {
		return br
	}

	br := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        dependency,
		MaxRequests: c.cfg.HalfOpenProbes,
		Interval:    c.cfg.BreakerInterval,
		Timeout:     c.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < c.cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= c.cfg.BreakerFailureRatio
		},
		// Бизнес-ответы удалённого сервиса не считаются сбоем зависимости.
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsRemoteBusinessError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.WithFields(log.Fields{
				"dependency": name,
				"from":       from.String(),
				"to":         to.String(),
			}).Warn("circuit breaker state changed")
			if c.metrics != nil {
				c.metrics.RecordBreakerTransition(name, to.String())
			}
		},
	})

	c.breakers[dependency] = br
	return br
}
