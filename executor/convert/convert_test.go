package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/cchess/game"
	"github.com/brensch/cchess/rules"
)

func TestToPlanes_StartPosition(t *testing.T) {
	s := game.NewState()
	p := ToPlanes(s)
	defer PutPlanes(p)
	data := *p
	require.Len(t, data, FloatSize)

	sum := float32(0)
	for _, v := range data {
		sum += v
	}
	assert.Equal(t, float32(32), sum)

	// Mover's king on (4,0) is row 9 of channel 6.
	assert.Equal(t, float32(1), data[6*Height*Width+9*Width+4])
	// Opponent's king on (4,9) is row 0 of channel 13.
	assert.Equal(t, float32(1), data[13*Height*Width+0*Width+4])
	// Mover's cannons on (1,2) and (7,2).
	assert.Equal(t, float32(1), data[1*Height*Width+7*Width+1])
	assert.Equal(t, float32(1), data[1*Height*Width+7*Width+7])
}

func TestToPlanes_ClearsPooledBuffer(t *testing.T) {
	p := ToPlanes(game.NewState())
	PutPlanes(p)

	empty, err := game.ParseState("4k4/9/9/9/9/9/9/9/9/4K4")
	require.NoError(t, err)
	p = ToPlanes(empty)
	defer PutPlanes(p)
	n := 0
	for _, v := range *p {
		if v != 0 {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestFromPlanes_RoundTrip(t *testing.T) {
	s := game.NewState()
	for i, m := range rules.LegalMoves(s) {
		if i > 5 {
			break
		}
		next := rules.Apply(s, m)
		p := ToPlanes(next)
		got, err := FromPlanes(*p)
		PutPlanes(p)
		require.NoError(t, err)
		assert.Equal(t, next, got)
	}

	_, err := FromPlanes(make([]float32, 3))
	assert.Error(t, err)
}

func TestPlanesBytes_RoundTrip(t *testing.T) {
	p := ToPlanes(game.NewState())
	defer PutPlanes(p)

	b := PlanesToBytes(*p)
	defer PutBuffer(b)
	require.Len(t, *b, BufferSize)

	back, err := BytesToPlanes(*b)
	require.NoError(t, err)
	assert.Equal(t, *p, back)

	_, err = BytesToPlanes([]byte{1, 2, 3})
	assert.Error(t, err)
}
