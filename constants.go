package pir

import "github.com/ehrlich-b/go-pir/internal/pipeline"

// WordSize is the accelerator word size in bytes. Cell lengths must be a
// multiple of this; the kernel accumulates XORs in units of this width.
const WordSize = pipeline.WordSize

// DefaultSocketPath is the rendezvous path the daemon binds when none is
// given on the command line.
const DefaultSocketPath = "pir.socket"

// Config describes the resident database geometry and the query batch width.
type Config = pipeline.Geometry
