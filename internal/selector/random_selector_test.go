package selector

import (
	"fmt"
	"testing"

	"github.com/blues/tds/internal/model"
	"github.com/stretchr/testify/require"
)

func makeCandidates(n int) []model.Recipient {
	recipients := make([]model.Recipient, n)
	for i := range recipients {
		recipients[i] = model.Recipient{
			ID:      fmt.Sprintf("r-%03d", i),
			Address: fmt.Sprintf("0x%040x", i),
			Amount:  1,
		}
	}
	return recipients
}

func TestShuffleDeterministic(t *testing.T) {
	candidates := makeCandidates(50)

	a := Shuffle("deadbeef", candidates)
	b := Shuffle("deadbeef", candidates)
	require.Equal(t, a, b, "same seed must produce the same order")

	c := Shuffle("cafebabe", candidates)
	require.NotEqual(t, a, c, "different seeds should produce different orders")
}

func TestShuffleIsPermutation(t *testing.T) {
	candidates := makeCandidates(30)
	shuffled := Shuffle("seed", candidates)

	require.Len(t, shuffled, len(candidates))
	seen := make(map[string]bool)
	for _, r := range shuffled {
		require.False(t, seen[r.ID], "recipient %s appears twice", r.ID)
		seen[r.ID] = true
	}
	for _, r := range candidates {
		require.True(t, seen[r.ID], "recipient %s missing after shuffle", r.ID)
	}
}

func TestShuffleDoesNotMutateInput(t *testing.T) {
	candidates := makeCandidates(10)
	original := make([]model.Recipient, len(candidates))
	copy(original, candidates)

	Shuffle("seed", candidates)
	require.Equal(t, original, candidates)
}

func TestSelectCountAndAuditHash(t *testing.T) {
	candidates := makeCandidates(100)

	sel, err := Select(candidates, 25)
	require.NoError(t, err)
	require.Len(t, sel.Recipients, 25)
	require.Len(t, sel.Seed, 64)

	// 用持久化的种子+地址重算哈希必须与存储值一致
	addresses := make([]string, len(sel.Recipients))
	for i, r := range sel.Recipients {
		addresses[i] = r.Address
	}
	recomputed, err := ResultHash(sel.Seed, addresses)
	require.NoError(t, err)
	require.Equal(t, sel.ResultHash, recomputed)

	// 抽取结果必须等于重放洗牌后的前25个
	replayed := Shuffle(sel.Seed, candidates)
	require.Equal(t, replayed[:25], sel.Recipients)
}

func TestSelectCountClampedToCandidates(t *testing.T) {
	candidates := makeCandidates(5)

	sel, err := Select(candidates, 10)
	require.NoError(t, err)
	require.Len(t, sel.Recipients, 5)
}

func TestSelectRejectsInvalidInput(t *testing.T) {
	_, err := Select(nil, 3)
	require.Error(t, err)

	_, err = Select(makeCandidates(3), 0)
	require.Error(t, err)
}
