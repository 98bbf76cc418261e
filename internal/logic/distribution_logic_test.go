package logic

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/blues/tds/internal/model"
	"github.com/blues/tds/internal/queue"
	"github.com/blues/tds/internal/selector"
	"github.com/blues/tds/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testCreator  = "0xAAAA000000000000000000000000000000000001"
	testContract = "0xCCCC000000000000000000000000000000000001"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	payloads []*queue.DistributionJobPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueDistribution(ctx context.Context, p *queue.DistributionJobPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, p)
	return nil
}

func (f *fakeEnqueuer) all() []*queue.DistributionJobPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*queue.DistributionJobPayload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

func seedCampaign(t *testing.T, db *gorm.DB, mutate func(*model.Campaign)) *model.Campaign {
	t.Helper()
	campaign := &model.Campaign{
		ID:               "camp-1",
		Name:             "test drop",
		Status:           model.CampaignStatusActive,
		DistributionMode: model.DistributionModeAll,
		CreatorAddress:   testCreator,
		ContractAddress:  testContract,
		TokenID:          "1",
	}
	if mutate != nil {
		mutate(campaign)
	}
	require.NoError(t, db.Create(campaign).Error)
	return campaign
}

func seedRecipients(t *testing.T, db *gorm.DB, campaignID string, n int) []model.Recipient {
	t.Helper()
	recipients := make([]model.Recipient, n)
	for i := range recipients {
		recipients[i] = model.Recipient{
			ID:         fmt.Sprintf("r-%04d", i),
			CampaignID: campaignID,
			Address:    fmt.Sprintf("0x%040x", i+1),
			Amount:     1,
			Status:     model.RecipientStatusPending,
		}
	}
	require.NoError(t, db.CreateInBatches(recipients, 100).Error)
	return recipients
}

func newTestLogic(t *testing.T, db *gorm.DB, batchSize int) (*DistributionLogic, *fakeEnqueuer) {
	t.Helper()
	enq := &fakeEnqueuer{}
	l := NewDistributionLogic(db, enq, batchSize)
	t.Cleanup(l.Close)
	return l, enq
}

func TestStartDistributionPreconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("campaign not found", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		l, _ := newTestLogic(t, db, 100)
		_, err := l.StartDistribution(ctx, "missing", testCreator)
		require.ErrorIs(t, err, ErrCampaignNotFound)
	})

	t.Run("caller is not creator", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, nil)
		seedRecipients(t, db, "camp-1", 3)
		l, enq := newTestLogic(t, db, 100)
		_, err := l.StartDistribution(ctx, "camp-1", "0xdeadbeef00000000000000000000000000000000")
		require.ErrorIs(t, err, ErrForbidden)
		require.Empty(t, enq.all())
	})

	t.Run("contract not deployed", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, func(c *model.Campaign) { c.ContractAddress = "" })
		seedRecipients(t, db, "camp-1", 3)
		l, _ := newTestLogic(t, db, 100)
		_, err := l.StartDistribution(ctx, "camp-1", testCreator)
		require.ErrorIs(t, err, ErrContractNotDeployed)
	})

	t.Run("invalid status", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, func(c *model.Campaign) { c.Status = model.CampaignStatusDistributing })
		seedRecipients(t, db, "camp-1", 3)
		l, _ := newTestLogic(t, db, 100)
		_, err := l.StartDistribution(ctx, "camp-1", testCreator)
		require.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("no pending recipients", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, nil)
		l, _ := newTestLogic(t, db, 100)
		_, err := l.StartDistribution(ctx, "camp-1", testCreator)
		require.ErrorIs(t, err, ErrNoRecipients)
	})

	// 前置条件失败时不得有任何数据修改
	t.Run("no mutation on failure", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, func(c *model.Campaign) { c.ContractAddress = "" })
		seedRecipients(t, db, "camp-1", 3)
		l, enq := newTestLogic(t, db, 100)
		_, err := l.StartDistribution(ctx, "camp-1", testCreator)
		require.Error(t, err)

		var campaign model.Campaign
		require.NoError(t, db.First(&campaign, "id = ?", "camp-1").Error)
		require.Equal(t, model.CampaignStatusActive, campaign.Status)

		var count int64
		require.NoError(t, db.Model(&model.Distribution{}).Count(&count).Error)
		require.Zero(t, count)
		require.Empty(t, enq.all())
	})
}

func TestStartDistributionAllMode(t *testing.T) {
	db := testutil.NewTestDB(t)
	seedCampaign(t, db, nil)
	seedRecipients(t, db, "camp-1", 250)
	l, enq := newTestLogic(t, db, 100)

	result, err := l.StartDistribution(context.Background(), "camp-1", testCreator)
	require.NoError(t, err)
	require.Equal(t, 3, result.BatchCount)
	require.Equal(t, 250, result.TotalRecipients)

	var campaign model.Campaign
	require.NoError(t, db.First(&campaign, "id = ?", "camp-1").Error)
	require.Equal(t, model.CampaignStatusDistributing, campaign.Status)

	var distributions []model.Distribution
	require.NoError(t, db.Order("batch_index").Find(&distributions).Error)
	require.Len(t, distributions, 3)
	require.Len(t, distributions[0].RecipientIDs, 100)
	require.Len(t, distributions[1].RecipientIDs, 100)
	require.Len(t, distributions[2].RecipientIDs, 50)
	for i, dist := range distributions {
		require.Equal(t, i, dist.BatchIndex)
		require.Equal(t, model.DistributionStatusQueued, dist.Status)
		require.NotEmpty(t, dist.IdempotencyKey)
	}

	var queued int64
	require.NoError(t, db.Model(&model.Recipient{}).
		Where("status = ?", model.RecipientStatusQueued).Count(&queued).Error)
	require.EqualValues(t, 250, queued)

	// 全部批次在事务提交之后入队
	payloads := enq.all()
	require.Len(t, payloads, 3)
	keys := make(map[string]bool)
	for _, p := range payloads {
		require.Equal(t, "camp-1", p.CampaignID)
		require.Equal(t, testContract, p.ContractAddress)
		require.Equal(t, "1", p.TokenID)
		require.Len(t, p.RecipientAddresses, len(p.Amounts))
		keys[p.IdempotencyKey] = true
	}
	require.Len(t, keys, 3)

	var audit model.AuditLog
	require.NoError(t, db.First(&audit, "action = ?", "distribution_started").Error)
	require.Contains(t, audit.Detail, `"batch_count":3`)
}

func TestStartDistributionRandomMode(t *testing.T) {
	db := testutil.NewTestDB(t)
	count := 30
	seedCampaign(t, db, func(c *model.Campaign) {
		c.DistributionMode = model.DistributionModeRandom
		c.RandomCount = &count
	})
	seedRecipients(t, db, "camp-1", 100)
	l, enq := newTestLogic(t, db, 100)

	result, err := l.StartDistribution(context.Background(), "camp-1", testCreator)
	require.NoError(t, err)
	require.Equal(t, 1, result.BatchCount)
	require.Equal(t, 30, result.TotalRecipients)

	// 抽取审计记录已落库且可校验
	var draw model.RandomDraw
	require.NoError(t, db.First(&draw, "campaign_id = ?", "camp-1").Error)
	require.Equal(t, 100, draw.TotalCandidates)
	require.Equal(t, 30, draw.SelectedCount)
	require.Len(t, draw.SelectedAddresses, 30)
	recomputed, err := selector.ResultHash(draw.ServerSeed, draw.SelectedAddresses)
	require.NoError(t, err)
	require.Equal(t, draw.ResultHash, recomputed)

	// 只有被抽中的接收者进入队列
	var queued, pending int64
	require.NoError(t, db.Model(&model.Recipient{}).
		Where("status = ?", model.RecipientStatusQueued).Count(&queued).Error)
	require.NoError(t, db.Model(&model.Recipient{}).
		Where("status = ?", model.RecipientStatusPending).Count(&pending).Error)
	require.EqualValues(t, 30, queued)
	require.EqualValues(t, 70, pending)

	require.Len(t, enq.all(), 1)
}

func TestStartDistributionRandomCountRequired(t *testing.T) {
	db := testutil.NewTestDB(t)
	seedCampaign(t, db, func(c *model.Campaign) {
		c.DistributionMode = model.DistributionModeRandom
	})
	seedRecipients(t, db, "camp-1", 10)
	l, _ := newTestLogic(t, db, 100)

	_, err := l.StartDistribution(context.Background(), "camp-1", testCreator)
	require.ErrorIs(t, err, ErrRandomCountRequired)
}

func TestRetryDistribution(t *testing.T) {
	ctx := context.Background()

	seedFailedState := func(t *testing.T, db *gorm.DB) {
		seedCampaign(t, db, func(c *model.Campaign) { c.Status = model.CampaignStatusFailed })
		recipients := seedRecipients(t, db, "camp-1", 4)

		okIDs := model.StringSlice{recipients[0].ID, recipients[1].ID}
		failedIDs := model.StringSlice{recipients[2].ID, recipients[3].ID}
		require.NoError(t, db.Create(&model.Distribution{
			ID: "dist-0", CampaignID: "camp-1", BatchIndex: 0,
			RecipientIDs:   okIDs,
			Status:         model.DistributionStatusCompleted,
			IdempotencyKey: "key-0",
			TxHash:         "0xaa",
		}).Error)
		require.NoError(t, db.Create(&model.Distribution{
			ID: "dist-1", CampaignID: "camp-1", BatchIndex: 1,
			RecipientIDs:   failedIDs,
			Status:         model.DistributionStatusFailed,
			IdempotencyKey: "key-1",
			Error:          "transaction reverted",
		}).Error)
		require.NoError(t, db.Model(&model.Recipient{}).
			Where("id IN ?", []string(failedIDs)).
			Updates(map[string]interface{}{
				"status": model.RecipientStatusFailed,
				"error":  "transaction reverted",
			}).Error)
	}

	t.Run("requeues only failed batches", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedFailedState(t, db)
		l, enq := newTestLogic(t, db, 100)

		retried, err := l.RetryDistribution(ctx, "camp-1", testCreator)
		require.NoError(t, err)
		require.Equal(t, 1, retried)

		var dist model.Distribution
		require.NoError(t, db.First(&dist, "id = ?", "dist-1").Error)
		require.Equal(t, model.DistributionStatusQueued, dist.Status)
		require.NotEqual(t, "key-1", dist.IdempotencyKey, "retry must issue a fresh idempotency key")
		require.Equal(t, 1, dist.RetryCount)
		require.Zero(t, dist.DeferralCount)
		require.Empty(t, dist.Error)

		// 已完成的批次不受影响
		var done model.Distribution
		require.NoError(t, db.First(&done, "id = ?", "dist-0").Error)
		require.Equal(t, model.DistributionStatusCompleted, done.Status)
		require.Equal(t, "key-0", done.IdempotencyKey)

		var campaign model.Campaign
		require.NoError(t, db.First(&campaign, "id = ?", "camp-1").Error)
		require.Equal(t, model.CampaignStatusDistributing, campaign.Status)

		var requeued []model.Recipient
		require.NoError(t, db.Where("status = ?", model.RecipientStatusQueued).Find(&requeued).Error)
		require.Len(t, requeued, 2)
		for _, r := range requeued {
			require.Empty(t, r.Error)
		}

		payloads := enq.all()
		require.Len(t, payloads, 1)
		require.Equal(t, 1, payloads[0].BatchIndex)
		require.Equal(t, dist.IdempotencyKey, payloads[0].IdempotencyKey)
		require.Len(t, payloads[0].RecipientAddresses, 2)
	})

	t.Run("no failed batches", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, func(c *model.Campaign) { c.Status = model.CampaignStatusDistributing })
		l, _ := newTestLogic(t, db, 100)
		_, err := l.RetryDistribution(ctx, "camp-1", testCreator)
		require.ErrorIs(t, err, ErrNoFailedBatches)
	})

	t.Run("invalid status", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedCampaign(t, db, nil) // ACTIVE
		l, _ := newTestLogic(t, db, 100)
		_, err := l.RetryDistribution(ctx, "camp-1", testCreator)
		require.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("forbidden", func(t *testing.T) {
		db := testutil.NewTestDB(t)
		seedFailedState(t, db)
		l, _ := newTestLogic(t, db, 100)
		_, err := l.RetryDistribution(ctx, "camp-1", "0xdeadbeef00000000000000000000000000000000")
		require.ErrorIs(t, err, ErrForbidden)
	})
}
