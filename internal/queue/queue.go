package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blues/tds/internal/config"
	"github.com/blues/tds/internal/logger"
	"github.com/hibiken/asynq"
)

const (
	// TypeDistribution 批次发放任务类型
	TypeDistribution = "distribution:batch"

	// QueueDistribution 发放队列名
	QueueDistribution = "distribution"

	// RetryBackoffBase 重试退避基数
	RetryBackoffBase = 5 * time.Second

	// AttemptCeiling 队列层面的硬重试上限。
	// 逻辑上的尝试次数预算由worker自己控制（熔断延迟不计入预算），
	// 这里只是防止延迟无限循环的兜底。队列归档任务时不会再回调worker，
	// 所以worker在触顶的那次投递上必须把批次落为终局失败。
	AttemptCeiling = 25
)

// DistributionJobPayload 批次发放任务载荷
type DistributionJobPayload struct {
	CampaignID         string   `json:"campaignId"`
	BatchIndex         int      `json:"batchIndex"`
	RecipientAddresses []string `json:"recipientAddresses"`
	Amounts            []int64  `json:"amounts"`
	ContractAddress    string   `json:"contractAddress"`
	TokenID            string   `json:"tokenId"` // 十进制字符串
	IdempotencyKey     string   `json:"idempotencyKey"`
}

// Enqueuer 任务入队接口
type Enqueuer interface {
	EnqueueDistribution(ctx context.Context, payload *DistributionJobPayload) error
}

// Client asynq客户端封装
type Client struct {
	client *asynq.Client
}

// NewClient 创建队列客户端
func NewClient(cfg config.RedisConfig) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// EnqueueDistribution 入队一个批次发放任务。
// 以幂等键作为任务ID，队列自身会丢弃重复入队的任务。
func (c *Client) EnqueueDistribution(ctx context.Context, payload *DistributionJobPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution payload: %w", err)
	}

	task := asynq.NewTask(TypeDistribution, data)
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.TaskID(payload.IdempotencyKey),
		asynq.Queue(QueueDistribution),
		asynq.MaxRetry(AttemptCeiling),
	)
	if err != nil {
		// 任务ID冲突说明同一个幂等键已经在队列中，视为入队成功
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Info("Distribution task already enqueued, key=%s", payload.IdempotencyKey)
			return nil
		}
		return fmt.Errorf("failed to enqueue distribution task: %w", err)
	}

	return nil
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
