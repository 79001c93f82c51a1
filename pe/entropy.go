package pe

import "math"

// EntropyCalculator is an io.Writer that accumulates a byte-frequency
// histogram and reports the Shannon entropy of everything written to it.
type EntropyCalculator struct {
	size        int
	frequencies [256]uint64
}

func (e *EntropyCalculator) Write(p []byte) (n int, err error) {
	e.size += len(p)
	for _, v := range p {
		e.frequencies[v]++
	}
	return len(p), nil
}

func (e *EntropyCalculator) Sum() (entropy float64) {
	if e.size == 0 {
		return
	}
	for _, c := range e.frequencies {
		if c > 0 {
			freq := float64(c) / float64(e.size)
			entropy += freq * math.Log2(freq)
		}
	}
	return -entropy
}
