package speakers

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/voiceforge/sovits-service/internal/audio"
)

// api_v2 rejects reference audio outside this duration window.
const (
	MinReferenceSeconds = 3.0
	MaxReferenceSeconds = 10.0
)

// Scoring bands for reference clip quality.
const (
	baseScore          = 50.0
	maxScore           = 100.0
	durationIdealBonus = 30.0
	durationGoodBonus  = 20.0
	durationOKBonus    = 10.0
	sampleRateHiBonus  = 20.0
	sampleRateMidBonus = 10.0
	midSampleRate      = 22050
)

// ErrNoUsableReference indicates that no clip fits the api_v2 duration window.
var ErrNoUsableReference = errors.New("no reference audio within the 3-10 second window")

// QualityScore rates a clip for use as a synthesis prompt. Clips of 10-20
// seconds score best on duration; 32 kHz or better scores best on sample
// rate. The score is capped at 100.
func QualityScore(ref ReferenceAudio) float64 {
	score := baseScore

	switch {
	case ref.DurationSeconds >= 10 && ref.DurationSeconds <= 20:
		score += durationIdealBonus
	case ref.DurationSeconds >= 8 && ref.DurationSeconds <= 25:
		score += durationGoodBonus
	case ref.DurationSeconds >= 5 && ref.DurationSeconds <= 30:
		score += durationOKBonus
	}

	switch {
	case ref.SampleRate >= audio.RecommendedSampleRate:
		score += sampleRateHiBonus
	case ref.SampleRate >= midSampleRate:
		score += sampleRateMidBonus
	}

	if score > maxScore {
		score = maxScore
	}

	return score
}

// SelectBestReference picks the highest-scoring clip within the duration
// window. When nothing qualifies, the error names every clip duration so the
// operator knows what to re-record.
func SelectBestReference(refs []ReferenceAudio) (ReferenceAudio, error) {
	usable := usableReferences(refs)
	if len(usable) == 0 {
		durations := make([]string, 0, len(refs))
		for _, ref := range refs {
			durations = append(durations, fmt.Sprintf("%.1fs", ref.DurationSeconds))
		}

		return ReferenceAudio{}, fmt.Errorf(
			"%w: available clips are %s",
			ErrNoUsableReference,
			strings.Join(durations, ", "),
		)
	}

	sortByScore(usable)

	return usable[0], nil
}

// SelectAuxiliaryReferences returns up to count additional qualifying clips,
// by score, excluding the best reference itself. Used for multi-clip fusion.
func SelectAuxiliaryReferences(refs []ReferenceAudio, count int) []ReferenceAudio {
	usable := usableReferences(refs)
	if len(usable) <= 1 || count <= 0 {
		return nil
	}

	sortByScore(usable)

	aux := usable[1:]
	if len(aux) > count {
		aux = aux[:count]
	}

	return aux
}

func usableReferences(refs []ReferenceAudio) []ReferenceAudio {
	usable := make([]ReferenceAudio, 0, len(refs))

	for _, ref := range refs {
		if ref.DurationSeconds >= MinReferenceSeconds && ref.DurationSeconds <= MaxReferenceSeconds {
			usable = append(usable, ref)
		}
	}

	return usable
}

func sortByScore(refs []ReferenceAudio) {
	sort.SliceStable(refs, func(i, j int) bool {
		return QualityScore(refs[i]) > QualityScore(refs[j])
	})
}
