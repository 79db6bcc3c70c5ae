package procpool

import (
	"fmt"
	"strings"
)

// Strategy selects how the ranks of a pool divide work between them.
type Strategy uint8

const (
	Solo  Strategy = iota // every rank works on its own
	Group                 // the ranks of a group act as one
	Pool                  // the whole pool acts as one
)

func (s Strategy) String() string {
	switch s {
	case Solo:
		return "solo"
	case Group:
		return "group"
	default:
		return "pool"
	}
}

// ParseStrategy accepts the names returned by String.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "solo", "process", "perprocess":
		return Solo, nil
	case "group", "pergroup":
		return Group, nil
	case "pool", "item", "peritem":
		return Pool, nil
	}
	return Solo, fmt.Errorf("unknown strategy %q", name)
}
