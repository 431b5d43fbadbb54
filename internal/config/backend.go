package config

import (
	"fmt"
	"strings"
)

const (
	BackendSerial   = "serial"
	BackendParallel = "parallel"
)

const (
	TopologyLinear = "linear"
	TopologyTree   = "tree"
	TopologyRing   = "ring"
)

func NormalizeBackend(raw string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(raw))
	if backend == "" {
		backend = BackendSerial
	}
	switch backend {
	case BackendSerial, BackendParallel:
		return backend, nil
	case "cpu":
		return BackendSerial, nil
	case "lanes":
		return BackendParallel, nil
	default:
		return "", fmt.Errorf(
			"invalid backend %q (expected %s|%s)",
			raw,
			BackendSerial,
			BackendParallel,
		)
	}
}

func NormalizeTopology(raw string) (string, error) {
	topology := strings.ToLower(strings.TrimSpace(raw))
	if topology == "" {
		topology = TopologyTree
	}
	switch topology {
	case TopologyLinear, TopologyTree, TopologyRing:
		return topology, nil
	case "chain":
		return TopologyLinear, nil
	case "binomial":
		return TopologyTree, nil
	default:
		return "", fmt.Errorf(
			"invalid topology %q (expected %s|%s|%s)",
			raw,
			TopologyLinear,
			TopologyTree,
			TopologyRing,
		)
	}
}
