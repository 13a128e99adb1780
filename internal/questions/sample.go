// Package questions picks the questions a session plays from a quiz bank.
package questions

import (
	"math/rand"

	"quiz-engine/internal/domain"
)

// Sample returns n questions drawn without replacement in random order.
// n <= 0 or n >= len(bank) returns the whole bank shuffled. The bank is not modified.
func Sample(bank []domain.Question, n int, rnd *rand.Rand) []domain.Question {
	out := make([]domain.Question, len(bank))
	copy(out, bank)
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
