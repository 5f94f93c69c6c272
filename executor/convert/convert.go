package convert

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/brensch/cchess/game"
)

const (
	Width         = game.Width
	Height        = game.Height
	Channels      = 14
	BytesPerFloat = 4
	FloatSize     = Channels * Width * Height
	BufferSize    = FloatSize * BytesPerFloat
)

// channelOf maps a piece kind to its plane within a side's block of seven.
var channelOf = map[game.Piece]int{
	game.Pawn:    0,
	game.Cannon:  1,
	game.Rook:    2,
	game.Knight:  3,
	game.Bishop:  4,
	game.Advisor: 5,
	game.King:    6,
}

var kindOf = [7]game.Piece{game.Pawn, game.Cannon, game.Rook, game.Knight, game.Bishop, game.Advisor, game.King}

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, BufferSize)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// GetBuffer returns a wire buffer from the pool.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns a wire buffer to the pool.
func PutBuffer(b *[]byte) {
	bufferPool.Put(b)
}

// ToPlanes encodes the state into a pooled float32 slice.
// Output shape: [Channels, Height, Width]. Channels 0..6 hold the mover's
// pawns, cannons, rooks, knights, bishops, advisors and king; 7..13 the same
// for the opponent. Row 0 is the far rank (y=9).
// Caller returns the slice with PutPlanes once the oracle has consumed it.
func ToPlanes(s game.State) *[]float32 {
	dataPtr := GetFloatBuffer()
	data := *dataPtr
	clear(data)

	for sq, p := range s.Board {
		if p.IsEmpty() {
			continue
		}
		c, ok := channelOf[p.Kind()]
		if !ok {
			continue
		}
		if p.Opp() {
			c += 7
		}
		x, y := game.Coords(sq)
		row := Height - 1 - y
		data[c*Height*Width+row*Width+x] = 1
	}
	return dataPtr
}

// PutPlanes returns a slice obtained from ToPlanes.
func PutPlanes(p *[]float32) {
	PutFloatBuffer(p)
}

// FromPlanes decodes a plane tensor back into a state.
func FromPlanes(data []float32) (game.State, error) {
	var s game.State
	for i := range s.Board {
		s.Board[i] = game.Empty
	}
	if len(data) != FloatSize {
		return s, fmt.Errorf("planes: got %d floats, want %d", len(data), FloatSize)
	}
	for c := 0; c < Channels; c++ {
		for row := 0; row < Height; row++ {
			for x := 0; x < Width; x++ {
				if data[c*Height*Width+row*Width+x] < 0.5 {
					continue
				}
				y := Height - 1 - row
				idx := game.Index(x, y)
				if !s.Board[idx].IsEmpty() {
					return s, fmt.Errorf("planes: square (%d,%d) set twice", x, y)
				}
				p := kindOf[c%7]
				if c >= 7 {
					p = p - 'A' + 'a'
				}
				s.Board[idx] = p
			}
		}
	}
	return s, nil
}

// PlanesToBytes writes planes as little-endian float32 into a pooled buffer.
// Caller must return it to pool using PutBuffer.
func PlanesToBytes(planes []float32) *[]byte {
	dataPtr := GetBuffer()
	data := *dataPtr
	if need := len(planes) * BytesPerFloat; cap(data) < need {
		data = make([]byte, need)
	} else {
		data = data[:need]
	}
	for i, v := range planes {
		binary.LittleEndian.PutUint32(data[i*BytesPerFloat:], math.Float32bits(v))
	}
	*dataPtr = data
	return dataPtr
}

// BytesToPlanes is the inverse of PlanesToBytes.
func BytesToPlanes(data []byte) ([]float32, error) {
	if len(data)%BytesPerFloat != 0 {
		return nil, fmt.Errorf("planes: %d bytes is not a whole number of floats", len(data))
	}
	out := make([]float32, len(data)/BytesPerFloat)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*BytesPerFloat:]))
	}
	return out, nil
}
