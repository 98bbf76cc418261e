package selector

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/blues/tds/internal/model"
)

// Selection 一次随机抽取的结果
type Selection struct {
	Seed       string
	ResultHash string
	Recipients []model.Recipient
}

// Select 从候选接收者中随机抽取count个。
// 服务端生成32字节随机种子，用种子驱动确定性洗牌后取前count个，
// 并计算结果哈希供第三方审计。count大于候选数量时抽取全部候选。
func Select(candidates []model.Recipient, count int) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to select from")
	}
	if count <= 0 {
		return nil, fmt.Errorf("invalid selection count: %d", count)
	}
	if count > len(candidates) {
		count = len(candidates)
	}

	seedBytes := make([]byte, 32)
	if _, err := rand.Read(seedBytes); err != nil {
		return nil, fmt.Errorf("failed to generate random seed: %w", err)
	}
	seed := hex.EncodeToString(seedBytes)

	shuffled := Shuffle(seed, candidates)
	selected := shuffled[:count]

	addresses := make([]string, len(selected))
	for i, r := range selected {
		addresses[i] = r.Address
	}

	hash, err := ResultHash(seed, addresses)
	if err != nil {
		return nil, err
	}

	return &Selection{
		Seed:       seed,
		ResultHash: hash,
		Recipients: selected,
	}, nil
}

// Shuffle 种子驱动的Fisher-Yates洗牌。
// 第i轮的交换位置由sha256("seed:i")的前4字节对(i+1)取模得到，
// 同一个种子洗牌结果完全可复现，审计方依赖这一点重放抽取过程。
func Shuffle(seed string, recipients []model.Recipient) []model.Recipient {
	result := make([]model.Recipient, len(recipients))
	copy(result, recipients)

	for i := len(result) - 1; i >= 1; i-- {
		h := sha256.Sum256([]byte(seed + ":" + strconv.Itoa(i)))
		j := int(binary.BigEndian.Uint32(h[:4]) % uint32(i+1))
		result[i], result[j] = result[j], result[i]
	}

	return result
}

// ResultHash 计算抽取结果哈希: sha256(seed || JSON(addresses))
func ResultHash(seed string, addresses []string) (string, error) {
	data, err := json.Marshal(addresses)
	if err != nil {
		return "", fmt.Errorf("failed to marshal selected addresses: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(seed))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
