package engine

import (
	"github.com/loganszeto/respkv/internal/persistence"
	"github.com/loganszeto/respkv/internal/store"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

// Log is the durable side of the engine. *persistence.AOF implements it.
type Log interface {
	Append(rec persistence.Record) error
	Clear() error
	Rewrite(entries map[string]store.Entry) error
}
