package game

// Labels is the fixed action vocabulary the oracle's policy head is indexed
// by. Order: every from-square (file-major), its rank and file destinations
// and knight jumps, followed by the advisor and elephant diagonals.
var Labels []Move

var labelIndex map[Move]int

// NumActions is len(Labels).
var NumActions int

var advisorLabels = []string{
	"d7e8", "e8d7", "e8f9", "f9e8", "d0e1", "e1d0", "e1f2", "f2e1",
	"d2e1", "e1d2", "e1f0", "f0e1", "d9e8", "e8d9", "e8f7", "f7e8",
}

var bishopLabels = []string{
	"a2c4", "c4a2", "c0e2", "e2c0", "e2g4", "g4e2", "g0i2", "i2g0",
	"a7c9", "c9a7", "c5e7", "e7c5", "e7g9", "g9e7", "g5i7", "i7g5",
	"a2c0", "c0a2", "c4e2", "e2c4", "e2g0", "g0e2", "g4i2", "i2g4",
	"a7c5", "c5a7", "c9e7", "e7c9", "e7g5", "g5e7", "g9i7", "i7g9",
}

var knightJumps = [8][2]int{{-2, -1}, {-1, -2}, {-2, 1}, {1, -2}, {2, -1}, {-1, 2}, {2, 1}, {1, 2}}

func init() {
	Labels = buildLabels()
	NumActions = len(Labels)
	labelIndex = make(map[Move]int, NumActions)
	for i, m := range Labels {
		labelIndex[m] = i
	}
}

func buildLabels() []Move {
	out := make([]Move, 0, 2086)
	for x := 0; x < Width; x++ {
		for y := 0; y < Height; y++ {
			dests := make([][2]int, 0, Width+Height+len(knightJumps))
			for t := 0; t < Width; t++ {
				dests = append(dests, [2]int{t, y})
			}
			for t := 0; t < Height; t++ {
				dests = append(dests, [2]int{x, t})
			}
			for _, j := range knightJumps {
				dests = append(dests, [2]int{x + j[0], y + j[1]})
			}
			for _, d := range dests {
				if (d[0] == x && d[1] == y) || !OnBoard(d[0], d[1]) {
					continue
				}
				out = append(out, NewMove(x, y, d[0], d[1]))
			}
		}
	}
	for _, l := range advisorLabels {
		out = append(out, letterMove(l))
	}
	for _, l := range bishopLabels {
		out = append(out, letterMove(l))
	}
	return out
}

// letterMove reads the file-letter notation ("d7e8") used for diagonals.
func letterMove(s string) Move {
	return NewMove(int(s[0]-'a'), int(s[1]-'0'), int(s[2]-'a'), int(s[3]-'0'))
}

// LabelIndex returns the policy index of m.
func LabelIndex(m Move) (int, bool) {
	i, ok := labelIndex[m]
	return i, ok
}
