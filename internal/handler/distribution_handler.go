package handler

import (
	"errors"
	"net/http"

	"github.com/blues/tds/internal/logic"
	"github.com/blues/tds/internal/model"
	"github.com/blues/tds/internal/selector"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type DistributionHandler struct {
	db                *gorm.DB
	distributionLogic *logic.DistributionLogic
}

func NewDistributionHandler(db *gorm.DB, distributionLogic *logic.DistributionLogic) *DistributionHandler {
	return &DistributionHandler{
		db:                db,
		distributionLogic: distributionLogic,
	}
}

// StartDistribution 发起活动发放
func (h *DistributionHandler) StartDistribution(c *gin.Context) {
	campaignID := c.Param("id")
	caller := c.GetHeader("X-Wallet-Address")
	if caller == "" {
		ErrorResponse(c, http.StatusBadRequest, "missing X-Wallet-Address header")
		return
	}

	result, err := h.distributionLogic.StartDistribution(c.Request.Context(), campaignID, caller)
	if err != nil {
		respondLogicError(c, err)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "distribution started", result)
}

// RetryDistribution 重试失败的批次
func (h *DistributionHandler) RetryDistribution(c *gin.Context) {
	campaignID := c.Param("id")
	caller := c.GetHeader("X-Wallet-Address")
	if caller == "" {
		ErrorResponse(c, http.StatusBadRequest, "missing X-Wallet-Address header")
		return
	}

	retried, err := h.distributionLogic.RetryDistribution(c.Request.Context(), campaignID, caller)
	if err != nil {
		respondLogicError(c, err)
		return
	}

	SuccessResponse(c, http.StatusAccepted, "retry started", gin.H{"retried": retried})
}

// GetDistributions 查询活动的批次列表
func (h *DistributionHandler) GetDistributions(c *gin.Context) {
	campaignID := c.Param("id")

	var distributions []model.Distribution
	if err := h.db.Where("campaign_id = ?", campaignID).
		Order("batch_index").Find(&distributions).Error; err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "failed to load distributions")
		return
	}

	SuccessResponse(c, http.StatusOK, "", distributions)
}

// GetRandomDraw 查询随机抽取审计记录。
// 同时返回用种子和已选地址重算的结果哈希，供第三方校验。
func (h *DistributionHandler) GetRandomDraw(c *gin.Context) {
	campaignID := c.Param("id")

	var draw model.RandomDraw
	if err := h.db.Where("campaign_id = ?", campaignID).
		Order("created_at desc").First(&draw).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			ErrorResponse(c, http.StatusNotFound, "no random draw for this campaign")
			return
		}
		ErrorResponse(c, http.StatusInternalServerError, "failed to load random draw")
		return
	}

	recomputed, err := selector.ResultHash(draw.ServerSeed, draw.SelectedAddresses)
	if err != nil {
		ErrorResponse(c, http.StatusInternalServerError, "failed to recompute result hash")
		return
	}

	SuccessResponse(c, http.StatusOK, "", gin.H{
		"draw":            draw,
		"recomputed_hash": recomputed,
		"verified":        recomputed == draw.ResultHash,
	})
}

// respondLogicError 把业务分类错误映射为HTTP状态码
func respondLogicError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, logic.ErrCampaignNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, logic.ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, logic.ErrContractNotDeployed),
		errors.Is(err, logic.ErrNoRecipients),
		errors.Is(err, logic.ErrNoFailedBatches),
		errors.Is(err, logic.ErrRandomCountRequired):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, logic.ErrInvalidStatus):
		ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		ErrorResponse(c, http.StatusInternalServerError, "internal error")
	}
}
