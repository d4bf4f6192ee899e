package cqt

import "math"

// FramesToTime returns the time in seconds of each of n frames spaced hop
// samples apart.
func FramesToTime(n, sampleRate, hopLength int) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i*hopLength) / float64(sampleRate)
	}
	return times
}

// Frequencies returns n geometrically spaced centre frequencies starting at
// fmin with binsPerOctave bins per doubling.
func Frequencies(n int, fmin float64, binsPerOctave int) []float64 {
	freqs := make([]float64, n)
	for k := range freqs {
		freqs[k] = fmin * math.Pow(2, float64(k)/float64(binsPerOctave))
	}
	return freqs
}
