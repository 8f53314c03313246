package builder

import (
	"context"
	"math/rand/v2"

	config "github.com/RNA4219/llm-generic-bot/configs"
)

func init() {
	Register("builtin:omikuji", func(config.ProviderConfig) (Builder, error) {
		return NewOmikuji(), nil
	})
}

var omikujiResults = []string{
	"大吉 — everything lines up today, post boldly",
	"中吉 — solid day, one pleasant surprise",
	"小吉 — small wins, keep expectations modest",
	"吉 — steady as it goes",
	"末吉 — luck arrives late, be patient",
	"凶 — lie low and double-check everything",
}

// Omikuji draws a daily fortune.
type Omikuji struct {
	pick func(n int) int
}

// NewOmikuji creates the fortune builder.
func NewOmikuji() *Omikuji {
	return &Omikuji{pick: rand.IntN}
}

func (o *Omikuji) Name() string { return "omikuji" }

func (o *Omikuji) Build(context.Context) (string, error) {
	return "今日の運勢: " + omikujiResults[o.pick(len(omikujiResults))], nil
}
