package tissue

import "math/rand"

// countingSource counts Int63 draws so a resumed run can fast-forward a fresh
// source to the same position. It deliberately does not implement
// rand.Source64, which keeps every rand.Rand method on Int63.
type countingSource struct {
	src   rand.Source
	draws uint64
}

func newCountingSource(seed int64) *countingSource {
	return &countingSource{src: rand.NewSource(seed)}
}

func (s *countingSource) Int63() int64 {
	s.draws++
	return s.src.Int63()
}

func (s *countingSource) Seed(seed int64) {
	s.src.Seed(seed)
	s.draws = 0
}

func (s *countingSource) skip(n uint64) {
	for s.draws < n {
		s.Int63()
	}
}
