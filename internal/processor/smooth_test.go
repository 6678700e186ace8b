package processor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSmootherBelowThreshold(t *testing.T) {
	s := NewSmoother()
	res := s.Observe("video", 1, "5612ABC", 0.9)
	require.Empty(t, res.Final)
	require.Zero(t, res.Conf)
}

func TestSmootherCommitsOnAgreement(t *testing.T) {
	s := NewSmoother()
	s.Observe("video", 1, "5612ABC", 0.9)
	res := s.Observe("video", 1, "5612ABC", 0.8)
	require.Equal(t, "5612ABC", res.Final)
	require.InDelta(t, 1.0, res.Conf, 1e-9)
}

func TestSmootherConfidenceWeightedVote(t *testing.T) {
	s := NewSmoother()
	s.Observe("video", 1, "ABC", 0.9)
	res := s.Observe("video", 1, "ABD", 0.2)

	// Position 2 is contested: C carries 0.9 against D's 0.2
	require.Equal(t, "ABC", res.Final)
	require.InDelta(t, (1.1+1.1+0.9)/3.3, res.Conf, 1e-9)

	// A heavier later reading flips it
	res = s.Observe("video", 1, "ABD", 0.8)
	require.Equal(t, "ABD", res.Final)
}

func TestSmootherPadsShortReadings(t *testing.T) {
	s := NewSmoother()
	s.Observe("video", 1, "AB", 0.5)
	res := s.Observe("video", 1, "ABC", 0.4)

	// The missing trailing character outweighs C, so it stays dropped
	require.Equal(t, "AB", res.Final)

	s2 := NewSmoother()
	s2.Observe("video", 1, "AB", 0.4)
	res = s2.Observe("video", 1, "ABC", 0.5)
	require.Equal(t, "ABC", res.Final)
}

func TestSmootherKeysPerTrackAndVideo(t *testing.T) {
	s := NewSmoother()
	s.Observe("video", 1, "AAA", 0.9)
	res := s.Observe("video", 2, "AAA", 0.9)
	require.Empty(t, res.Final)

	res = s.Observe("other", 1, "AAA", 0.9)
	require.Empty(t, res.Final)

	res = s.Observe("video", 2, "AAA", 0.9)
	require.Equal(t, "AAA", res.Final)
}

func TestSmootherIgnoresEmptyReadings(t *testing.T) {
	s := NewSmoother()
	s.Observe("video", 1, "", 0.9)
	res := s.Observe("video", 1, "XYZ", 0.9)
	require.Empty(t, res.Final)
}
