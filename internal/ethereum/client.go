package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/blues/tds/internal/config"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// 活动NFT合约ABI（铸造部分）
const campaignNFTABI = `[
	{
		"name": "mint",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "tokenId", "type": "uint256"},
			{"name": "amount", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "mintBatch",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "tos", "type": "address[]"},
			{"name": "tokenId", "type": "uint256"},
			{"name": "amounts", "type": "uint256[]"}
		],
		"outputs": []
	}
]`

// receiptPollInterval 等待确认时的回执轮询间隔
const receiptPollInterval = 3 * time.Second

type Client struct {
	client      *ethclient.Client
	privateKey  *ecdsa.PrivateKey
	chainId     *big.Int
	contractABI abi.ABI
}

func Init(cfg config.ChainConfig) (*Client, error) {
	// 连接以太坊客户端
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ethereum client: %w", err)
	}

	// 解析私钥
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	// 解析ABI
	parsedABI, err := abi.JSON(strings.NewReader(campaignNFTABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	return &Client{
		client:      client,
		privateKey:  privateKey,
		chainId:     big.NewInt(cfg.ChainId),
		contractABI: parsedABI,
	}, nil
}

// GetAccountAddress 获取发放账户地址
func (c *Client) GetAccountAddress() common.Address {
	return crypto.PubkeyToAddress(c.privateKey.PublicKey)
}

// SimulateMintBatch 模拟执行mintBatch调用。
// 通过eth_call在不消耗gas的情况下提前发现revert。
func (c *Client) SimulateMintBatch(ctx context.Context, contract common.Address,
	recipients []common.Address, tokenId *big.Int, amounts []*big.Int) error {

	input, err := c.contractABI.Pack("mintBatch", recipients, tokenId, amounts)
	if err != nil {
		return fmt.Errorf("failed to pack mintBatch call: %w", err)
	}

	msg := ethereum.CallMsg{
		From: c.GetAccountAddress(),
		To:   &contract,
		Data: input,
	}

	if _, err := c.client.CallContract(ctx, msg, nil); err != nil {
		return fmt.Errorf("mintBatch simulation reverted: %w", err)
	}

	return nil
}

// SubmitMintBatch 提交mintBatch交易，返回交易哈希
func (c *Client) SubmitMintBatch(ctx context.Context, contract common.Address,
	recipients []common.Address, tokenId *big.Int, amounts []*big.Int) (common.Hash, error) {

	auth, err := bind.NewKeyedTransactorWithChainID(c.privateKey, c.chainId)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create transactor: %w", err)
	}
	auth.Context = ctx

	bound := bind.NewBoundContract(contract, c.contractABI, c.client, c.client, c.client)
	tx, err := bound.Transact(auth, "mintBatch", recipients, tokenId, amounts)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to submit mintBatch transaction: %w", err)
	}

	return tx.Hash(), nil
}

// Receipt 查询交易回执。交易尚未上链时返回(nil, nil)。
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, err
	}
	return receipt, nil
}

// WaitForReceipt 等待交易达到指定确认深度后返回回执
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash,
	confirmations uint64) (*types.Receipt, error) {

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.Receipt(ctx, txHash)
		if err != nil {
			return nil, err
		}

		if receipt != nil {
			confirmed, err := c.isConfirmed(ctx, receipt, confirmations)
			if err != nil {
				return nil, err
			}
			if confirmed {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// isConfirmed 检查回执是否已达到确认深度。
// confirmations=2表示交易所在区块之后至少还有1个区块。
func (c *Client) isConfirmed(ctx context.Context, receipt *types.Receipt, confirmations uint64) (bool, error) {
	if confirmations <= 1 {
		return true, nil
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return false, err
	}

	return header.Number.Uint64() >= receipt.BlockNumber.Uint64()+confirmations-1, nil
}
