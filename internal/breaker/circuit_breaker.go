package breaker

import (
	"sync"
	"time"

	"github.com/blues/tds/internal/logger"
)

// State 熔断器状态
type State string

const (
	StateClosed   State = "CLOSED"    // 正常放行
	StateOpen     State = "OPEN"      // 拒绝调用
	StateHalfOpen State = "HALF_OPEN" // 允许一次探测调用
)

// CircuitBreaker RPC调用熔断器。
//
// CLOSED → 连续失败达到阈值 → OPEN
// OPEN → 经过resetTimeout后 → HALF_OPEN（放行一次探测）
// HALF_OPEN → 成功 → CLOSED / 失败 → OPEN
//
// 状态只在进程内维护，重启后重置。最坏情况是重启后多打一次探测请求。
type CircuitBreaker struct {
	mu sync.Mutex

	threshold    int
	resetTimeout time.Duration

	failures    int
	state       State
	nextRetryAt time.Time

	now func() time.Time
}

// New 创建熔断器
func New(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// CurrentState 获取当前状态，OPEN超过恢复时间后惰性转为HALF_OPEN
func (b *CircuitBreaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

func (b *CircuitBreaker) currentStateLocked() State {
	if b.state == StateOpen && !b.now().Before(b.nextRetryAt) {
		b.state = StateHalfOpen
	}
	return b.state
}

// CanExecute 是否允许发起调用
func (b *CircuitBreaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.currentStateLocked()
	return s == StateClosed || s == StateHalfOpen
}

// RecordSuccess 记录一次成功调用，重置失败计数并关闭熔断器
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = StateClosed
}

// RecordFailure 记录一次失败调用。
// HALF_OPEN下的失败立即重新熔断，否则失败计数达到阈值时熔断。
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.state = StateOpen
		b.nextRetryAt = b.now().Add(b.resetTimeout)
		logger.Warn("Circuit breaker OPEN: %d consecutive failures, retry after %s",
			b.failures, b.resetTimeout)
	}
}
