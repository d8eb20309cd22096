package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Generation is the recorded final state of one job.
type Generation struct {
	bun.BaseModel `bun:"table:generations"`

	ID          string       `bun:",pk"`
	Status      string       `bun:",notnull"`
	ModelType   string       `bun:",notnull"`
	Prompt      string       `bun:",notnull"`
	ModelName   string       `bun:",nullzero"`
	LoraName    string       `bun:",nullzero"`
	Input       []byte       `bun:",notnull"`
	InputHash   string       `bun:",notnull"`
	Result      string       `bun:",nullzero"`
	ErrorKind   string       `bun:",nullzero"`
	CreatedAt   time.Time    `bun:",notnull"`
	StartedAt   bun.NullTime `bun:",nullzero"`
	CompletedAt bun.NullTime `bun:",nullzero"`
}
