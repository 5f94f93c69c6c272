package game

// Key is the packed canonical form of a State, 4 bits per square.
// It is comparable and used directly as a map key.
type Key [Squares / 2]byte

var pieceCode = [256]byte{
	'K': 1, 'A': 2, 'B': 3, 'N': 4, 'R': 5, 'C': 6, 'P': 7,
	'k': 9, 'a': 10, 'b': 11, 'n': 12, 'r': 13, 'c': 14, 'p': 15,
}

var codePiece = [16]Piece{
	Empty, King, Advisor, Bishop, Knight, Rook, Cannon, Pawn,
	Empty, 'k', 'a', 'b', 'n', 'r', 'c', 'p',
}

func (s *State) Key() Key {
	var k Key
	for i := 0; i < Squares; i += 2 {
		k[i/2] = pieceCode[s.Board[i]]<<4 | pieceCode[s.Board[i+1]]
	}
	return k
}

// State unpacks the key.
func (k Key) State() State {
	var s State
	for i, b := range k {
		s.Board[2*i] = codePiece[b>>4]
		s.Board[2*i+1] = codePiece[b&0x0F]
	}
	return s
}
