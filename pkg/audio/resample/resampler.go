// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Used to bring injector sources to the mixer sample rate
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64
	position   float64
	lastSample []int16 // one sample per channel, carried between chunks
	primed     bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]int16, channels),
	}
}

// Resample converts input samples to output sample rate using linear interpolation
// input: interleaved samples at inputRate
// output: interleaved samples at outputRate
// Returns the number of output samples written.
func (r *Resampler) Resample(input []int16, output []int16) int {
	if len(input) == 0 {
		return 0
	}

	inputFrames := len(input) / r.channels
	outputFrames := len(output) / r.channels

	// frame -1 is the last frame of the previous chunk
	frameAt := func(idx, ch int) float64 {
		if idx < 0 {
			if !r.primed {
				return float64(input[ch])
			}
			return float64(r.lastSample[ch])
		}
		return float64(input[idx*r.channels+ch])
	}

	outIdx := 0
	for outIdx < outputFrames {
		inputIdx := int(r.position)
		if r.position < 0 {
			inputIdx = -1
		}
		if inputIdx >= inputFrames-1 {
			break
		}

		frac := r.position - float64(inputIdx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := frameAt(inputIdx, ch)
			s2 := frameAt(inputIdx+1, ch)
			output[outIdx*r.channels+ch] = int16(s1*(1.0-frac) + s2*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	for ch := 0; ch < r.channels; ch++ {
		r.lastSample[ch] = input[(inputFrames-1)*r.channels+ch]
	}
	r.primed = true

	// Carry the fractional read position into the next chunk, relative to its first frame
	r.position -= float64(inputFrames)
	if r.position < -1 {
		// output was too small for the chunk; drop the unread input
		r.position = -1
	}

	return outIdx * r.channels
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	r.primed = false
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
