package engine

import "github.com/loganszeto/respkv/internal/protocol"

// Durability reports what happened to the log write of one command.
type Durability int

const (
	// DurabilityNone means the command wrote nothing to the log.
	DurabilityNone Durability = iota
	DurabilityDurable
	// DurabilityDegraded means the keyspace changed but the log write failed.
	DurabilityDegraded
)

func (d Durability) String() string {
	switch d {
	case DurabilityDurable:
		return "durable"
	case DurabilityDegraded:
		return "degraded"
	default:
		return "none"
	}
}

type Result struct {
	Reply      protocol.Value
	Durability Durability
}

func reply(v protocol.Value) Result {
	return Result{Reply: v}
}
