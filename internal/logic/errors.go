package logic

import "errors"

// 前置条件校验错误。这些错误同步返回给调用方，不做任何数据修改，也不会重试。
// 底层存储或RPC的原始错误不会透传给活动创建者，对外只暴露这些分类错误。
var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrForbidden           = errors.New("caller is not the campaign creator")
	ErrContractNotDeployed = errors.New("campaign contract is not deployed")
	ErrInvalidStatus       = errors.New("campaign status does not allow this operation")
	ErrNoRecipients        = errors.New("campaign has no pending recipients")
	ErrNoFailedBatches     = errors.New("campaign has no failed batches to retry")
	ErrRandomCountRequired = errors.New("random distribution requires a positive random count")
)
