// Package pipeline implements the double-buffered batch evaluation machinery
// of the query engine: the device kernel, the per-pipeline buffer set and
// latches, and the two-pipeline scheduler that overlaps transfers, compute
// and socket I/O.
package pipeline

import "fmt"

// WordSize is the accelerator word size in bytes.
const WordSize = 8

// Geometry describes the resident database and the query batch width.
type Geometry struct {
	CellLength int // bytes per cell; must be a positive multiple of WordSize
	CellCount  int // cells in the database; must be a positive multiple of 8
	BatchSize  int // independent queries per kernel launch
}

// Validate checks the constraints the kernel tiling depends on.
func (g Geometry) Validate() error {
	if g.CellLength <= 0 || g.CellCount <= 0 || g.BatchSize <= 0 {
		return fmt.Errorf("pipeline: geometry must be positive, got (%d, %d, %d)",
			g.CellLength, g.CellCount, g.BatchSize)
	}
	if g.CellLength%WordSize != 0 {
		return fmt.Errorf("pipeline: cell length %d is not a multiple of the %d-byte word",
			g.CellLength, WordSize)
	}
	if g.CellCount%8 != 0 {
		return fmt.Errorf("pipeline: cell count %d is not a multiple of 8", g.CellCount)
	}
	return nil
}

// MaskBytes is the size of one packed query mask.
func (g Geometry) MaskBytes() int { return g.CellCount * g.BatchSize / 8 }

// ResponseBytes is the size of one batch response.
func (g Geometry) ResponseBytes() int { return g.CellLength * g.BatchSize }

// DatabaseBytes is the size of the resident database.
func (g Geometry) DatabaseBytes() int { return g.CellLength * g.CellCount }

// WordsPerCell is the number of accumulator words in one cell.
func (g Geometry) WordsPerCell() int { return g.CellLength / WordSize }

// DatabaseWords is the number of words in the whole database.
func (g Geometry) DatabaseWords() int { return g.DatabaseBytes() / WordSize }
