package worker

import (
	"errors"
	"time"

	"github.com/blues/tds/internal/queue"
	"github.com/hibiken/asynq"
)

// maxRetryDelay 指数退避的延迟上限
const maxRetryDelay = 10 * time.Minute

// RetryDelay 构建asynq重试延迟策略。
// 熔断延迟按熔断恢复时间重新调度，普通失败按5s*2^n指数退避。
func RetryDelay(breakerResetTimeout time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, t *asynq.Task) time.Duration {
		if errors.Is(err, ErrBreakerOpen) {
			return breakerResetTimeout
		}
		delay := queue.RetryBackoffBase
		for i := 0; i < n && delay < maxRetryDelay; i++ {
			delay *= 2
		}
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
		return delay
	}
}

// IsFailure 熔断延迟是调度信号而不是失败，不计入失败统计
func IsFailure(err error) bool {
	return !errors.Is(err, ErrBreakerOpen)
}
