package asr

import (
	"strings"
	"time"
)

const earlyAudioWindow = 2 * time.Second

var fillerWords = map[string]bool{
	"um": true, "uh": true, "hmm": true, "mm": true, "erm": true,
}

func isFillerOrPunctuationOnly(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return true
	}
	if fillerWords[trimmed] {
		return true
	}
	for _, r := range trimmed {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// shouldSuppressEarlyAudio implements §4.3's early-audio filter: from first
// frame until either 2s elapse or a non-filler transcript is seen,
// transcripts are suppressed. Once speech is detected the filter disengages
// for the rest of the interaction — this function records that in
// s.speechDetected, so later filler transcripts are still broadcast, per
// Scenario 4.
func (s *InteractionState) shouldSuppressEarlyAudio(text string, now time.Time) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if s.speechDetected {
		return false
	}
	if now.Sub(s.firstFrameAt) >= earlyAudioWindow {
		s.speechDetected = true
		return false
	}
	if !isFillerOrPunctuationOnly(text) {
		s.speechDetected = true
		return false
	}
	return true
}
