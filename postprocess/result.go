// Package postprocess - Postprocessing of detector outputs into object labels.
package postprocess

// Result records one round of global label assignment.
type Result struct {
	// The object owning the highest remaining class probability.
	Object int `json:"object"`
	// The class of that probability.
	Class int `json:"class"`
	// The probability itself.
	Score float32 `json:"score"`
	// True when the object already carried a label and kept it.
	Kept bool `json:"kept"`
	// The number of objects whose probability for Class was zeroed this round,
	// the winner included.
	Suppressed int `json:"suppressed"`
}

// Summary returns the number of rounds that assigned a new label and the
// total number of suppressed probabilities.
func Summary(rounds []Result) (assigned, suppressed int) {
	for _, r := range rounds {
		if !r.Kept {
			assigned++
		}
		suppressed += r.Suppressed
	}
	return assigned, suppressed
}
