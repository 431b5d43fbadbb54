//go:build !amd64 && !arm64

package eft

var useFMA = false
