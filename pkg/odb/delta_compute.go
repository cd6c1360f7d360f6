package odb

import (
	"bytes"

	"github.com/aclements/go-rabin/rabin"
)

const (
	// deltaBlockSize is the fixed-size base chunk fingerprinted for
	// match detection and the width of the rolling window slid over
	// the target.
	deltaBlockSize = 16

	// maxCopySize caps one copy command at the 3-byte size limit.
	maxCopySize = 0xffffff

	// maxInsertSize caps one insert command at the 7-bit length limit.
	maxInsertSize = 127
)

var deltaTable = rabin.NewTable(rabin.Poly64, deltaBlockSize)

// ComputeDelta produces a delta stream transforming base into target.
// Base blocks are fingerprinted with a Rabin rolling hash; the same
// window is rolled across the target to find copyable spans, which are
// extended byte-wise in both directions. Unmatched regions become
// literal inserts. The output is a heuristic, not globally minimal,
// but ApplyDelta(base, ComputeDelta(base, target)) always equals
// target.
func ComputeDelta(base, target []byte) []byte {
	var out bytes.Buffer
	out.Write(encodeDeltaVarint(uint64(len(base))))
	out.Write(encodeDeltaVarint(uint64(len(target))))

	if len(base) < deltaBlockSize || len(target) < deltaBlockSize {
		emitInsert(&out, target)
		return out.Bytes()
	}

	index := fingerprintBase(base)
	h := rabin.New(deltaTable)

	var pending []byte
	pos := 0
	windowed := false
	for pos < len(target) {
		if pos+deltaBlockSize > len(target) {
			pending = append(pending, target[pos:]...)
			break
		}
		if !windowed {
			h.Reset()
			h.Write(target[pos : pos+deltaBlockSize])
			windowed = true
		}

		baseOff, back, length := bestMatch(base, target, pos, len(pending), index[h.Sum64()])
		if length == 0 {
			pending = append(pending, target[pos])
			pos++
			if pos+deltaBlockSize <= len(target) {
				h.Write(target[pos+deltaBlockSize-1 : pos+deltaBlockSize])
			} else {
				windowed = false
			}
			continue
		}

		pending = pending[:len(pending)-back]
		emitInsert(&out, pending)
		pending = pending[:0]
		emitCopy(&out, baseOff, back+length)
		pos += length
		windowed = false
	}

	emitInsert(&out, pending)
	return out.Bytes()
}

// fingerprintBase hashes each block-aligned base chunk and indexes its
// offset by fingerprint.
func fingerprintBase(base []byte) map[uint64][]int {
	index := make(map[uint64][]int, len(base)/deltaBlockSize)
	h := rabin.New(deltaTable)
	for off := 0; off+deltaBlockSize <= len(base); off += deltaBlockSize {
		h.Reset()
		h.Write(base[off : off+deltaBlockSize])
		sum := h.Sum64()
		index[sum] = append(index[sum], off)
	}
	return index
}

// bestMatch verifies fingerprint candidates at target position pos and
// returns the longest span, extended forward from the window and
// backward into the pending literal run. It returns the adjusted base
// offset, the backward extension, and the forward length (0 if no
// candidate verifies).
func bestMatch(base, target []byte, pos, pendingLen int, candidates []int) (baseOff, back, length int) {
	best := 0
	for _, cand := range candidates {
		if !bytes.Equal(base[cand:cand+deltaBlockSize], target[pos:pos+deltaBlockSize]) {
			continue
		}
		fwd := deltaBlockSize
		for cand+fwd < len(base) && pos+fwd < len(target) && base[cand+fwd] == target[pos+fwd] {
			fwd++
		}
		bwd := 0
		for bwd < pendingLen && cand-bwd > 0 && base[cand-bwd-1] == target[pos-bwd-1] {
			bwd++
		}
		if fwd+bwd > best {
			best = fwd + bwd
			baseOff = cand - bwd
			back = bwd
			length = fwd
		}
	}
	return baseOff, back, length
}

// emitCopy appends copy commands covering size bytes of base starting
// at offset, splitting spans past the per-command size limit. Zero
// argument bytes are omitted per the encoding.
func emitCopy(out *bytes.Buffer, offset, size int) {
	for size > 0 {
		chunk := size
		if chunk > maxCopySize {
			chunk = maxCopySize
		}

		cmd := byte(0x80)
		var args []byte
		for i, v := 0, offset; i < 4; i, v = i+1, v>>8 {
			if b := byte(v); b != 0 {
				cmd |= 1 << uint(i)
				args = append(args, b)
			}
		}
		for i, v := 0, chunk; i < 3; i, v = i+1, v>>8 {
			if b := byte(v); b != 0 {
				cmd |= 0x10 << uint(i)
				args = append(args, b)
			}
		}

		out.WriteByte(cmd)
		out.Write(args)
		offset += chunk
		size -= chunk
	}
}

// emitInsert appends literal insert commands in chunks of at most 127
// bytes.
func emitInsert(out *bytes.Buffer, lit []byte) {
	for pos := 0; pos < len(lit); {
		chunk := len(lit) - pos
		if chunk > maxInsertSize {
			chunk = maxInsertSize
		}
		out.WriteByte(byte(chunk))
		out.Write(lit[pos : pos+chunk])
		pos += chunk
	}
}
