package question

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/quiz-battle/internal/domain"
)

//go:embed fallback.yaml
var fallbackYAML []byte

// Bank holds the local fallback questions per subject.
type Bank struct {
	mu   sync.Mutex
	rng  *rand.Rand
	sets map[domain.Subject][]domain.Question
}

// DefaultBank parses the embedded fallback set.
func DefaultBank() (*Bank, error) {
	return ParseBank(fallbackYAML)
}

// ParseBank builds a bank from YAML keyed by subject. The math set is
// required since unknown subjects fall back to it.
func ParseBank(data []byte) (*Bank, error) {
	var sets map[domain.Subject][]domain.Question
	if err := yaml.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("parse fallback bank: %w", err)
	}
	if len(sets[domain.SubjectMath]) == 0 {
		return nil, fmt.Errorf("fallback bank has no %s questions", domain.SubjectMath)
	}
	for subject, qs := range sets {
		for i, q := range qs {
			if err := q.Validate(); err != nil {
				return nil, fmt.Errorf("fallback %s[%d]: %w", subject, i, err)
			}
		}
	}
	return &Bank{
		rng:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sets: sets,
	}, nil
}

// Seed makes Pick deterministic.
func (b *Bank) Seed(seed uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rng = rand.New(rand.NewPCG(seed, seed))
}

// Set returns the questions used for subject, resolving unknown subjects
// to math.
func (b *Bank) Set(subject domain.Subject) []domain.Question {
	if qs, ok := b.sets[subject]; ok && len(qs) > 0 {
		return qs
	}
	return b.sets[domain.SubjectMath]
}

// Pick returns a random question for subject. A question whose prompt
// equals exclude is skipped when the set has other candidates.
func (b *Bank) Pick(subject domain.Subject, exclude string) domain.Question {
	qs := b.Set(subject)
	candidates := make([]domain.Question, 0, len(qs))
	for _, q := range qs {
		if q.Prompt != exclude {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		candidates = qs
	}

	b.mu.Lock()
	i := b.rng.IntN(len(candidates))
	b.mu.Unlock()

	picked := candidates[i]
	picked.Choices = append([]string(nil), picked.Choices...)
	return picked
}
