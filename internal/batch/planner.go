package batch

import (
	"github.com/blues/tds/internal/model"
	"github.com/google/uuid"
)

// DefaultBatchSize 默认每批接收者数量
const DefaultBatchSize = 100

// Plan 一个待创建的批次
type Plan struct {
	BatchIndex     int
	Recipients     []model.Recipient
	IdempotencyKey string
}

// PlanBatches 把接收者列表按批次大小切分。
// 保持输入顺序，批次索引从0开始连续编号，每个批次分配一个新的幂等键。
func PlanBatches(recipients []model.Recipient, batchSize int) []Plan {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	plans := make([]Plan, 0, (len(recipients)+batchSize-1)/batchSize)
	for start := 0; start < len(recipients); start += batchSize {
		end := start + batchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		plans = append(plans, Plan{
			BatchIndex:     len(plans),
			Recipients:     recipients[start:end],
			IdempotencyKey: uuid.NewString(),
		})
	}

	return plans
}
