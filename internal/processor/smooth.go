package processor

import (
	"sync"
)

// Observations needed before the smoother commits to a plate
const minObservations = 2

type smoothKey struct {
	videoID string
	trackID int
}

type observation struct {
	text string
	conf float64
}

// Smoother accumulates OCR readings per (video_id, track_id) and emits
// a final plate once enough of them agree. Votes are confidence
// weighted, per character position, with every reading padded to the
// longest one seen. Untracked detections all land on track id 0 and
// share one accumulator; that mirrors the detector contract, which may
// omit track ids entirely.
type Smoother struct {
	mu   sync.Mutex
	seen map[smoothKey][]observation
}

// NewSmoother with empty history
func NewSmoother() *Smoother {
	return &Smoother{seen: make(map[smoothKey][]observation)}
}

// Observe one OCR reading. Returns an empty Final until the track has
// at least two observations.
func (s *Smoother) Observe(videoID string, trackID int, text string, conf float64) SmoothResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := smoothKey{videoID: videoID, trackID: trackID}
	if text != "" {
		s.seen[key] = append(s.seen[key], observation{text: text, conf: conf})
	}
	obs := s.seen[key]
	if len(obs) < minObservations {
		return SmoothResult{}
	}
	return vote(obs)
}

// vote merges observations by confidence-weighted character voting
func vote(obs []observation) SmoothResult {
	maxLen := 0
	for _, o := range obs {
		if n := len([]rune(o.text)); n > maxLen {
			maxLen = n
		}
	}

	final := make([]rune, 0, maxLen)
	var winning, total float64
	for pos := 0; pos < maxLen; pos++ {
		score := make(map[rune]float64)
		for _, o := range obs {
			runes := []rune(o.text)
			var r rune // rune 0 pads short readings
			if pos < len(runes) {
				r = runes[pos]
			}
			score[r] += o.conf
		}
		var best rune
		var bestScore, posTotal float64
		for r, sc := range score {
			posTotal += sc
			if sc > bestScore {
				best, bestScore = r, sc
			}
		}
		winning += bestScore
		total += posTotal
		if best != 0 {
			final = append(final, best)
		}
	}

	conf := 0.0
	if total > 0 {
		conf = winning / total
	}
	return SmoothResult{Final: string(final), Conf: conf}
}
