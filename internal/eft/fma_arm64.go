//go:build arm64

package eft

// arm64 always provides FMADD.
var useFMA = true
