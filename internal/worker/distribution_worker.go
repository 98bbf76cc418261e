package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/blues/tds/internal/breaker"
	"github.com/blues/tds/internal/logger"
	"github.com/blues/tds/internal/logic"
	"github.com/blues/tds/internal/model"
	"github.com/blues/tds/internal/queue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// ErrBreakerOpen 熔断器拒绝执行。这是延迟信号而不是失败：
// worker入口的RetryDelayFunc会按熔断恢复时间重新调度任务，且不计入尝试预算。
var ErrBreakerOpen = errors.New("rpc circuit breaker is open")

// errorTextLimit 落库错误信息的最大长度
const errorTextLimit = 500

// ChainClient 链RPC依赖
type ChainClient interface {
	SimulateMintBatch(ctx context.Context, contract common.Address,
		recipients []common.Address, tokenId *big.Int, amounts []*big.Int) error
	SubmitMintBatch(ctx context.Context, contract common.Address,
		recipients []common.Address, tokenId *big.Int, amounts []*big.Int) (common.Hash, error)
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash, confirmations uint64) (*types.Receipt, error)
}

// DistributionWorker 批次发放worker。
// 每个进程严格串行消费（并发度1，限速1个任务/窗口），避免同一签名账户的
// nonce竞争。水平扩容需要按签名账户分片，而不是提高单进程并发。
type DistributionWorker struct {
	db            *gorm.DB
	chain         ChainClient
	breaker       *breaker.CircuitBreaker
	completion    *logic.CompletionLogic
	limiter       *rate.Limiter
	maxAttempts   int
	confirmations uint64
}

// New 创建发放worker
func New(db *gorm.DB, chain ChainClient, brk *breaker.CircuitBreaker,
	completion *logic.CompletionLogic, maxAttempts int, confirmations uint64,
	rateInterval time.Duration) *DistributionWorker {

	var limiter *rate.Limiter
	if rateInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(rateInterval), 1)
	}

	return &DistributionWorker{
		db:            db,
		chain:         chain,
		breaker:       brk,
		completion:    completion,
		limiter:       limiter,
		maxAttempts:   maxAttempts,
		confirmations: confirmations,
	}
}

// HandleTask asynq任务入口
func (w *DistributionWorker) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DistributionJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed distribution payload: %v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	return w.Process(ctx, &payload, retried)
}

// Process 处理一个批次任务。retried是队列层面已重试的次数（首次执行为0）。
func (w *DistributionWorker) Process(ctx context.Context, p *queue.DistributionJobPayload, retried int) error {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	logger.Info("Processing batch %d for campaign %s (%d recipients)",
		p.BatchIndex, p.CampaignID, len(p.RecipientAddresses))

	// 熔断检查：RPC不可用时延迟任务，不消耗重试额度。
	// 队列层面的重试次数即将触顶时不能再延迟，否则任务会被队列归档而
	// 批次永远停在QUEUED，此时按终局失败落库
	if !w.breaker.CanExecute() {
		if retried >= queue.AttemptCeiling-1 {
			var dist model.Distribution
			err := w.db.Where("campaign_id = ? AND batch_index = ? AND idempotency_key = ?",
				p.CampaignID, p.BatchIndex, p.IdempotencyKey).First(&dist).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil
				}
				return err
			}
			if dist.Status.Terminal() {
				return nil
			}
			return w.failTerminal(&dist, p,
				fmt.Errorf("rpc circuit breaker still open after %d deferrals", dist.DeferralCount))
		}

		res := w.db.Model(&model.Distribution{}).
			Where("idempotency_key = ?", p.IdempotencyKey).
			UpdateColumn("deferral_count", gorm.Expr("deferral_count + 1"))
		if res.Error != nil {
			// 延迟未记账会在后面的尝试预算计算里被当成一次失败，记下来排查
			logger.Error("Failed to record deferral for key=%s: %v", p.IdempotencyKey, res.Error)
		} else if res.RowsAffected == 0 {
			logger.Warn("No distribution for key=%s, deferral not recorded", p.IdempotencyKey)
		}
		logger.Warn("Circuit breaker open, deferring batch %d of campaign %s",
			p.BatchIndex, p.CampaignID)
		return ErrBreakerOpen
	}

	// 幂等短路：同一个幂等键已完成时直接跳过，抵御队列的重复投递
	var completed int64
	if err := w.db.Model(&model.Distribution{}).
		Where("idempotency_key = ? AND status = ?",
			p.IdempotencyKey, model.DistributionStatusCompleted).
		Count(&completed).Error; err != nil {
		return err
	}
	if completed > 0 {
		logger.Info("Batch already completed, key=%s, skipping", p.IdempotencyKey)
		return nil
	}

	var dist model.Distribution
	err := w.db.Where("campaign_id = ? AND batch_index = ? AND idempotency_key = ?",
		p.CampaignID, p.BatchIndex, p.IdempotencyKey).First(&dist).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 幂等键已被新一轮重试取代，这个任务作废
			logger.Warn("No distribution for key=%s, dropping stale job", p.IdempotencyKey)
			return nil
		}
		return err
	}

	if err := w.markProcessing(&dist); err != nil {
		return err
	}

	// 崩溃恢复：上一次尝试在提交之后、确认之前崩溃时会留下txHash。
	// 先查这笔交易的回执，成功则直接采纳，绝不能重新提交（防止重复铸造）。
	if dist.TxHash != "" {
		receipt, rerr := w.chain.Receipt(ctx, common.HexToHash(dist.TxHash))
		switch {
		case rerr == nil && receipt != nil && receipt.Status == types.ReceiptStatusSuccessful:
			if err := w.complete(&dist, dist.TxHash, receipt.GasUsed); err != nil {
				return err
			}
			w.breaker.RecordSuccess()
			logger.Info("Batch %d recovered from existing tx %s", p.BatchIndex, dist.TxHash)
			return w.completion.CheckCompletion(p.CampaignID)
		case rerr == nil && receipt != nil:
			logger.Warn("Existing tx %s reverted, re-submitting", dist.TxHash)
		default:
			logger.Warn("Could not fetch receipt for %s, re-submitting", dist.TxHash)
		}
	}

	txHash, gasUsed, submitErr := w.submit(ctx, p, &dist)
	if submitErr != nil {
		w.breaker.RecordFailure()
		return w.fail(&dist, p, retried, submitErr)
	}

	w.breaker.RecordSuccess()
	if err := w.complete(&dist, txHash, gasUsed); err != nil {
		return err
	}

	logger.Info("Batch %d of campaign %s completed, tx=%s", p.BatchIndex, p.CampaignID, txHash)
	return w.completion.CheckCompletion(p.CampaignID)
}

// submit 模拟、提交并等待确认一笔mintBatch交易
func (w *DistributionWorker) submit(ctx context.Context, p *queue.DistributionJobPayload,
	dist *model.Distribution) (string, uint64, error) {

	tokenId, ok := new(big.Int).SetString(p.TokenID, 10)
	if !ok {
		return "", 0, fmt.Errorf("invalid token id: %q", p.TokenID)
	}

	contract := common.HexToAddress(p.ContractAddress)
	recipients := make([]common.Address, len(p.RecipientAddresses))
	for i, addr := range p.RecipientAddresses {
		recipients[i] = common.HexToAddress(addr)
	}
	amounts := make([]*big.Int, len(p.Amounts))
	for i, a := range p.Amounts {
		amounts[i] = big.NewInt(a)
	}

	// 先模拟，revert时不消耗gas
	if err := w.chain.SimulateMintBatch(ctx, contract, recipients, tokenId, amounts); err != nil {
		return "", 0, err
	}

	hash, err := w.chain.SubmitMintBatch(ctx, contract, recipients, tokenId, amounts)
	if err != nil {
		return "", 0, err
	}

	// 提交后立即落库交易哈希，等待确认期间崩溃后靠它恢复
	if err := w.db.Model(&model.Distribution{}).
		Where("id = ?", dist.ID).
		Update("tx_hash", hash.Hex()).Error; err != nil {
		logger.Error("Failed to persist tx hash %s for batch %d: %v", hash.Hex(), dist.BatchIndex, err)
		return "", 0, err
	}
	dist.TxHash = hash.Hex()

	receipt, err := w.chain.WaitForReceipt(ctx, hash, w.confirmations)
	if err != nil {
		return "", 0, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", 0, fmt.Errorf("transaction reverted: %s", hash.Hex())
	}

	return hash.Hex(), receipt.GasUsed, nil
}

// markProcessing 把批次和批次内接收者标记为处理中
func (w *DistributionWorker) markProcessing(dist *model.Distribution) error {
	return w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Distribution{}).
			Where("id = ?", dist.ID).
			Update("status", model.DistributionStatusProcessing).Error; err != nil {
			return err
		}
		return tx.Model(&model.Recipient{}).
			Where("id IN ?", []string(dist.RecipientIDs)).
			Update("status", model.RecipientStatusProcessing).Error
	})
}

// complete 成功收尾：批次和接收者都标记完成并记录链上信息
func (w *DistributionWorker) complete(dist *model.Distribution, txHash string, gasUsed uint64) error {
	now := time.Now()
	return w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Distribution{}).
			Where("id = ?", dist.ID).
			Updates(map[string]interface{}{
				"status":       model.DistributionStatusCompleted,
				"tx_hash":      txHash,
				"gas_used":     gasUsed,
				"completed_at": now,
				"error":        "",
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Recipient{}).
			Where("id IN ?", []string(dist.RecipientIDs)).
			Updates(map[string]interface{}{
				"status":         model.RecipientStatusCompleted,
				"tx_hash":        txHash,
				"distributed_at": now,
				"error":          "",
			}).Error
	})
}

// fail 失败收尾。逻辑尝试次数 = 队列重试次数 - 熔断延迟次数 + 1，
// 未到预算上限时把错误交给队列按指数退避重试；最后一次尝试把批次和
// 接收者落为FAILED，并触发活动完成度汇总，避免其它批次都结束后活动卡住。
func (w *DistributionWorker) fail(dist *model.Distribution, p *queue.DistributionJobPayload,
	retried int, cause error) error {

	attempt := retried - dist.DeferralCount + 1
	if attempt < 1 {
		attempt = 1
	}

	if attempt < w.maxAttempts {
		logger.Error("Batch %d of campaign %s failed (attempt %d/%d): %v",
			p.BatchIndex, p.CampaignID, attempt, w.maxAttempts, cause)
		return cause
	}

	return w.failTerminal(dist, p, cause)
}

// failTerminal 终局失败落库：批次和接收者落为FAILED并触发完成度汇总
func (w *DistributionWorker) failTerminal(dist *model.Distribution,
	p *queue.DistributionJobPayload, cause error) error {

	msg := truncateError(cause, errorTextLimit)
	err := w.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Distribution{}).
			Where("id = ?", dist.ID).
			Updates(map[string]interface{}{
				"status": model.DistributionStatusFailed,
				"error":  msg,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Recipient{}).
			Where("id IN ?", []string(dist.RecipientIDs)).
			Updates(map[string]interface{}{
				"status": model.RecipientStatusFailed,
				"error":  msg,
			}).Error
	})
	if err != nil {
		return err
	}

	logger.Error("Batch %d of campaign %s permanently failed: %v",
		p.BatchIndex, p.CampaignID, cause)

	if cerr := w.completion.CheckCompletion(p.CampaignID); cerr != nil {
		logger.Error("Completion check failed for campaign %s: %v", p.CampaignID, cerr)
	}

	return fmt.Errorf("batch %d permanently failed: %v: %w", p.BatchIndex, cause, asynq.SkipRetry)
}

// truncateError 截断错误信息用于落库，截断点回退到rune边界避免写入残缺的UTF-8
func truncateError(err error, limit int) string {
	msg := err.Error()
	if len(msg) <= limit {
		return msg
	}
	for limit > 0 && !utf8.RuneStart(msg[limit]) {
		limit--
	}
	return msg[:limit]
}
