package pir

// Test support: a CPU reference evaluator and mask construction helpers.
// The reference is the ground truth the accelerated path is checked
// against; clients can also use it for verification.

// ReferenceRead evaluates a batch of XOR-PIR queries on the host. For every
// batch slot it XORs together the cells whose mask bit is set, byte for
// byte. The accelerated path must produce identical output.
func ReferenceRead(geo Config, db, mask []byte) []byte {
	out := make([]byte, geo.ResponseBytes())
	for s := 0; s < geo.BatchSize; s++ {
		row := out[s*geo.CellLength : (s+1)*geo.CellLength]
		for i := 0; i < geo.CellCount; i++ {
			if !MaskBit(mask, geo, s, i) {
				continue
			}
			cell := db[i*geo.CellLength : (i+1)*geo.CellLength]
			for k := range row {
				row[k] ^= cell[k]
			}
		}
	}
	return out
}

// ZeroMask returns an all-zero mask for the geometry.
func ZeroMask(geo Config) []byte {
	return make([]byte, geo.MaskBytes())
}

// SingleIndexMask returns a mask selecting only cell for the given slot.
func SingleIndexMask(geo Config, slot, cell int) []byte {
	m := ZeroMask(geo)
	SetMaskBit(m, geo, slot, cell)
	return m
}

// SetMaskBit sets the indicator for (slot, cell). Bits are packed LSB-first
// within bytes; slot s owns the cellCount contiguous bits starting at
// s*cellCount.
func SetMaskBit(mask []byte, geo Config, slot, cell int) {
	b := slot*geo.CellCount + cell
	mask[b/8] |= 1 << (b % 8)
}

// MaskBit reads the indicator for (slot, cell).
func MaskBit(mask []byte, geo Config, slot, cell int) bool {
	b := slot*geo.CellCount + cell
	return mask[b/8]>>(b%8)&1 == 1
}

// XORBytes returns the bitwise XOR of two equal-length byte slices.
func XORBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
