package nnue

import "github.com/corvidchess/corvid/internal/board"

// FeatureIndex maps an absolute (color, kind, square) piece placement to
// its input slot from a given perspective. The board is mirrored
// vertically and colors are swapped for the black perspective, so both
// perspectives see "their own" pieces the same way a single network
// trained from White's point of view would expect; this is the standard
// perspective trick, applied here over the plain 12-kind feature set
// rather than a king-relative (HalfKP) one.
func FeatureIndex(perspective, color board.Color, kind board.PieceType, sq board.Square) int {
	relColor := color
	relSq := sq
	if perspective == board.Black {
		relColor = color.Other()
		relSq = sq ^ 56 // flip rank, keep file
	}
	return (int(relColor)*NumKinds+int(kind))*NumSquares + int(relSq)
}

// piecePlacement is an absolute (color, kind, square) triple.
type piecePlacement struct {
	color board.Color
	kind  board.PieceType
	sq    board.Square
}

// activePlacements lists every piece currently on the board.
func activePlacements(pos *board.Position) []piecePlacement {
	placements := make([]piecePlacement, 0, 32)
	for c := board.White; c <= board.Black; c++ {
		for pt := board.Pawn; pt <= board.King; pt++ {
			bb := pos.Pieces[c][pt]
			for bb != 0 {
				sq := bb.PopLSB()
				placements = append(placements, piecePlacement{c, pt, sq})
			}
		}
	}
	return placements
}

// moveDelta describes the absolute piece placements removed and added by a
// move that has already been applied to pos (i.e. called after MakeMove).
// captured is the piece that occupied the destination square before the
// move (board.NoPiece if none).
func moveDelta(pos *board.Position, m board.Move, captured board.Piece) (removed, added []piecePlacement) {
	from, to := m.From(), m.To()
	moved := pos.PieceAt(to)
	if moved == board.NoPiece {
		return nil, nil
	}
	mover := moved.Color()

	switch m.Flag() {
	case board.FlagEnPassant:
		capSq := to
		if mover == board.White {
			capSq = to - 8
		} else {
			capSq = to + 8
		}
		removed = append(removed, piecePlacement{mover, board.Pawn, from}, piecePlacement{mover.Other(), board.Pawn, capSq})
		added = append(added, piecePlacement{mover, moved.Type(), to})
		return removed, added

	case board.FlagCastling:
		// King move.
		removed = append(removed, piecePlacement{mover, board.King, from})
		added = append(added, piecePlacement{mover, board.King, to})
		// Rook move, derived from the king's destination file.
		var rookFrom, rookTo board.Square
		switch to {
		case board.G1:
			rookFrom, rookTo = board.H1, board.F1
		case board.C1:
			rookFrom, rookTo = board.A1, board.D1
		case board.G8:
			rookFrom, rookTo = board.H8, board.F8
		case board.C8:
			rookFrom, rookTo = board.A8, board.D8
		}
		removed = append(removed, piecePlacement{mover, board.Rook, rookFrom})
		added = append(added, piecePlacement{mover, board.Rook, rookTo})
		return removed, added

	case board.FlagPromotion:
		removed = append(removed, piecePlacement{mover, board.Pawn, from})
		added = append(added, piecePlacement{mover, moved.Type(), to})
		if captured != board.NoPiece {
			removed = append(removed, piecePlacement{captured.Color(), captured.Type(), to})
		}
		return removed, added

	default:
		removed = append(removed, piecePlacement{mover, moved.Type(), from})
		added = append(added, piecePlacement{mover, moved.Type(), to})
		if captured != board.NoPiece {
			removed = append(removed, piecePlacement{captured.Color(), captured.Type(), to})
		}
		return removed, added
	}
}
