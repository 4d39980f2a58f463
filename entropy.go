package pe

import (
	"math"
)

// Entropy verdicts.
const (
	VerdictNormal    = "normal"
	VerdictLocalized = "localized"
	VerdictPacked    = "packed"
)

const (
	DefaultEntropyBlockSize       = 256
	DefaultMaxEntropyBlocks       = 16384
	DefaultHighEntropyThreshold   = 7.2
	DefaultPackedEntropyThreshold = 7.0

	entropyChunkSize = 64 << 10
)

// EntropyCalculator accumulates a byte histogram across writes and reports
// the Shannon entropy of everything written so far.
type EntropyCalculator struct {
	size        uint64
	frequencies [256]uint64
}

func (e *EntropyCalculator) Write(p []byte) (n int, err error) {
	e.size += uint64(len(p))
	for _, v := range p {
		e.frequencies[v]++
	}
	return len(p), nil
}

func (e *EntropyCalculator) Reset() {
	*e = EntropyCalculator{}
}

// Sum returns the entropy in bits per byte, in [0, 8].
func (e *EntropyCalculator) Sum() (entropy float64) {
	if e.size == 0 {
		return
	}

	for _, p := range e.frequencies {
		if p > 0 {
			freq := float64(p) / float64(e.size)
			entropy += freq * math.Log2(freq)
		}
	}
	if entropy == 0 {
		return 0
	}
	return -entropy
}

// Entropy returns the Shannon entropy of b. Empty input is 0.
func Entropy(b []byte) float64 {
	var e EntropyCalculator
	_, _ = e.Write(b)
	return e.Sum()
}

// SourceEntropy is the entropy of the whole source, streamed in chunks.
func SourceEntropy(src *Source) (float64, error) {
	var e EntropyCalculator
	err := src.Scan(entropyChunkSize, 0, func(_ int64, chunk []byte) bool {
		_, _ = e.Write(chunk)
		return true
	})
	if err != nil {
		return 0, err
	}
	return e.Sum(), nil
}

// EntropyRegion is a run of adjacent high-entropy blocks.
type EntropyRegion struct {
	Offset  int64   `json:"offset" yaml:"offset"`
	Size    int64   `json:"size" yaml:"size"`
	Entropy float64 `json:"entropy" yaml:"entropy"`
}

// EntropyProfile is the block-sampled view of a file.
type EntropyProfile struct {
	BlockSize int             `json:"blockSize" yaml:"blockSize"`
	Blocks    []float64       `json:"blocks" yaml:"blocks"`
	Regions   []EntropyRegion `json:"regions" yaml:"regions"`
	Average   float64         `json:"average" yaml:"average"`
	Verdict   string          `json:"verdict" yaml:"verdict"`
}

// EntropyOptions tunes BlockProfile. Zero fields take their defaults.
type EntropyOptions struct {
	BlockSize              int
	MaxBlocks              int
	HighEntropyThreshold   float64
	PackedEntropyThreshold float64
}

func (o EntropyOptions) withDefaults() EntropyOptions {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultEntropyBlockSize
	}
	if o.MaxBlocks <= 0 {
		o.MaxBlocks = DefaultMaxEntropyBlocks
	}
	if o.HighEntropyThreshold <= 0 {
		o.HighEntropyThreshold = DefaultHighEntropyThreshold
	}
	if o.PackedEntropyThreshold <= 0 {
		o.PackedEntropyThreshold = DefaultPackedEntropyThreshold
	}
	return o
}

// blockSizeFor widens the block size in whole multiples of base until the
// file fits in maxBlocks blocks.
func blockSizeFor(size int64, base, maxBlocks int) int {
	bs := int64(base)
	if n := (size + bs - 1) / bs; n > int64(maxBlocks) {
		mult := (n + int64(maxBlocks) - 1) / int64(maxBlocks)
		bs *= mult
	}
	return int(bs)
}

// BlockProfile measures fixed-size blocks across the whole source and
// classifies the file. wholeFile is the entropy of the entire source, used
// for the packed verdict.
func BlockProfile(src *Source, wholeFile float64, opts EntropyOptions) (*EntropyProfile, error) {
	opts = opts.withDefaults()
	p := &EntropyProfile{
		BlockSize: blockSizeFor(src.Size(), opts.BlockSize, opts.MaxBlocks),
		Blocks:    []float64{},
		Regions:   []EntropyRegion{},
	}

	var sum float64
	var run *EntropyRegion
	var runSum float64
	var runBlocks int
	flush := func() {
		if run != nil {
			run.Entropy = runSum / float64(runBlocks)
			p.Regions = append(p.Regions, *run)
			run, runSum, runBlocks = nil, 0, 0
		}
	}

	// The chunk size is a multiple of the block size, so blocks never
	// straddle chunks.
	chunk := p.BlockSize * (entropyChunkSize/p.BlockSize + 1)
	err := src.Scan(chunk, 0, func(off int64, b []byte) bool {
		for i := 0; i < len(b); i += p.BlockSize {
			end := i + p.BlockSize
			if end > len(b) {
				end = len(b)
			}
			e := Entropy(b[i:end])
			p.Blocks = append(p.Blocks, e)
			sum += e

			if e >= opts.HighEntropyThreshold {
				if run == nil {
					run = &EntropyRegion{Offset: off + int64(i)}
				}
				run.Size += int64(end - i)
				runSum += e
				runBlocks++
			} else {
				flush()
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	flush()

	if len(p.Blocks) > 0 {
		p.Average = sum / float64(len(p.Blocks))
	}
	p.Verdict = classifyEntropy(wholeFile, len(p.Regions), opts.PackedEntropyThreshold)
	return p, nil
}

func classifyEntropy(wholeFile float64, regions int, packedThreshold float64) string {
	switch {
	case wholeFile >= packedThreshold:
		return VerdictPacked
	case regions > 0:
		return VerdictLocalized
	default:
		return VerdictNormal
	}
}
