package tonal

import (
	"github.com/RyanBlaney/sonido-live/algorithms/chroma"
	"github.com/RyanBlaney/sonido-live/algorithms/common"
	"gonum.org/v1/gonum/floats"
)

// NumKeys is the size of the key state space: 12 major keys followed by 12
// minor keys, each C-based
const NumKeys = 2 * chroma.NumPitchClasses

// KeyMode represents major or minor mode
type KeyMode int

const (
	KeyModeMajor KeyMode = iota
	KeyModeMinor
)

func (m KeyMode) String() string {
	if m == KeyModeMinor {
		return "minor"
	}
	return "major"
}

var keyNames = [chroma.NumPitchClasses]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Krumhansl-Schmuckler profiles (empirically derived), tonic first
var (
	krumhanslMajor = [chroma.NumPitchClasses]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	krumhanslMinor = [chroma.NumPitchClasses]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// GetKeyName returns human-readable key name
func GetKeyName(key int, mode KeyMode) string {
	if key < 0 {
		return "unknown"
	}
	return keyNames[key%chroma.NumPitchClasses] + " " + mode.String()
}

// GetRelativeKey returns the relative major/minor key
func GetRelativeKey(key int, mode KeyMode) (int, KeyMode) {
	if mode == KeyModeMajor {
		// Relative minor is 3 semitones down
		return (key + 9) % 12, KeyModeMinor
	}
	// Relative major is 3 semitones up
	return (key + 3) % 12, KeyModeMajor
}

// GetDominantKey returns the dominant key (5th above)
func GetDominantKey(key int, mode KeyMode) (int, KeyMode) {
	return (key + 7) % 12, mode
}

// GetSubdominantKey returns the subdominant key (5th below)
func GetSubdominantKey(key int, mode KeyMode) (int, KeyMode) {
	return (key + 5) % 12, mode
}

// stateOf maps a key and mode to its index in the 24-state space
func stateOf(key int, mode KeyMode) int {
	return int(mode)*chroma.NumPitchClasses + key%chroma.NumPitchClasses
}

// keyOf maps a state index back to key and mode
func keyOf(state int) (int, KeyMode) {
	return state % chroma.NumPitchClasses, KeyMode(state / chroma.NumPitchClasses)
}

// isRelatedState reports whether moving from state a to state b is a
// musically close move: relative major/minor, dominant or subdominant
func isRelatedState(a, b int) bool {
	key, mode := keyOf(a)
	for _, rel := range [...]func(int, KeyMode) (int, KeyMode){GetRelativeKey, GetDominantKey, GetSubdominantKey} {
		if stateOf(rel(key, mode)) == b {
			return true
		}
	}
	return false
}

// keyTemplates holds the mean-centred, unit-norm profiles so a dot product
// with a mean-centred, unit-norm chroma is a Pearson correlation
type keyTemplates struct {
	major [chroma.NumPitchClasses]float64
	minor [chroma.NumPitchClasses]float64
}

func newKeyTemplates() *keyTemplates {
	t := &keyTemplates{major: krumhanslMajor, minor: krumhanslMinor}
	centreAndNormalize(t.major[:])
	centreAndNormalize(t.minor[:])
	return t
}

// centreAndNormalize subtracts the mean and scales to unit L2 norm in place.
// Returns false (leaving v centred) when v is constant.
func centreAndNormalize(v []float64) bool {
	floats.AddConst(-common.Mean(v), v)
	norm := floats.Norm(v, 2)
	if norm < common.Epsilon {
		return false
	}
	floats.Scale(1/norm, v)
	return true
}

// score writes the correlation of the chroma with every key into scores.
// Key k reads the chroma rotated so that pitch class k lines up with the
// template's tonic. A flat or silent chroma scores 0 everywhere and
// score reports false.
func (t *keyTemplates) score(c [chroma.NumPitchClasses]float64, scores *[NumKeys]float64) bool {
	if !centreAndNormalize(c[:]) {
		clear(scores[:])
		return false
	}
	for key := range chroma.NumPitchClasses {
		var major, minor float64
		for i := range chroma.NumPitchClasses {
			v := c[(i+key)%chroma.NumPitchClasses]
			major += v * t.major[i]
			minor += v * t.minor[i]
		}
		scores[stateOf(key, KeyModeMajor)] = major
		scores[stateOf(key, KeyModeMinor)] = minor
	}
	return true
}
