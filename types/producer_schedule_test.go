package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerScheduleRotation(t *testing.T) {
	ps, pvs := RandProducerSchedule(4)
	require.NoError(t, ps.ValidateBasic())
	require.Len(t, pvs, 4)

	assert.Equal(t, "producer0", ps.Scheduled(0, 1).Name)
	assert.Equal(t, "producer3", ps.Scheduled(7, 1).Name)
	// two consecutive slots per producer
	assert.Equal(t, "producer0", ps.Scheduled(1, 2).Name)
	assert.Equal(t, "producer1", ps.Scheduled(2, 2).Name)

	assert.Equal(t, "producer1", ps.Primary(5).Name)
	assert.Equal(t, "producer0", ps.Primary(0).Name)
}

func TestProducerScheduleLookup(t *testing.T) {
	ps, pvs := RandProducerSchedule(3)
	pubKey, err := pvs[2].GetPubKey()
	require.NoError(t, err)

	p, ok := ps.GetByKey(pubKey)
	require.True(t, ok)
	assert.Equal(t, "producer2", p.Name)
	assert.True(t, ps.Contains(pubKey))
	assert.False(t, ps.Contains(NewMockPV().PrivKey.PubKey()))
	assert.False(t, ps.Contains(nil))

	_, ok = ps.GetByName("producer9")
	assert.False(t, ok)
}

func TestProducerScheduleEqualAndHash(t *testing.T) {
	ps, _ := RandProducerSchedule(3)
	cp := ps.Copy()
	assert.True(t, ps.Equal(cp))
	assert.Equal(t, ps.Hash(), cp.Hash())

	cp.Version++
	assert.False(t, ps.Equal(cp))
	assert.NotEqual(t, ps.Hash(), cp.Hash())

	var nilSchedule *ProducerSchedule
	assert.False(t, ps.Equal(nilSchedule))
	assert.True(t, nilSchedule.Equal(nil))
}

func TestProducerScheduleValidateBasic(t *testing.T) {
	ps, _ := RandProducerSchedule(2)
	ps.Producers[1].Name = ps.Producers[0].Name
	assert.Error(t, ps.ValidateBasic())

	ps, _ = RandProducerSchedule(2)
	ps.Producers[1].SigningKey = ps.Producers[0].SigningKey
	assert.Error(t, ps.ValidateBasic())

	assert.Error(t, (&ProducerSchedule{}).ValidateBasic())
}

func TestQuorumThreshold(t *testing.T) {
	cases := []struct {
		n, threshold int
	}{
		{0, 1},
		{1, 1},
		{2, 1},
		// f = 0, so a single signer is a quorum
		{3, 1},
		{4, 3},
		{6, 3},
		{7, 5},
		{21, 13},
	}
	for _, c := range cases {
		assert.Equal(t, c.threshold, QuorumThreshold(c.n), "n=%d", c.n)
	}
}
