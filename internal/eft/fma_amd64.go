//go:build amd64

package eft

import "golang.org/x/sys/cpu"

// useFMA is initialised once at program start. math.FMA lowers to
// VFMADD231SD when the CPU supports it and falls back to software otherwise.
var useFMA = cpu.X86.HasFMA
