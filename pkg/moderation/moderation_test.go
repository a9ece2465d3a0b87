package moderation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newWordlistGateway(words ...string) Gateway {
	return New(Config{Words: words, Logger: zerolog.Nop()})
}

func TestCheckProfanityMasksBlocklistedWords(t *testing.T) {
	gw := newWordlistGateway("damn")

	result, err := gw.CheckProfanity(context.Background(), "really DAMN good")
	require.NoError(t, err)
	require.True(t, result.HasProfanity)
	require.Equal(t, "really **** good", result.CleanMessage)
}

func TestCheckProfanityCleanText(t *testing.T) {
	gw := newWordlistGateway("damn")

	result, err := gw.CheckProfanity(context.Background(), "great session today")
	require.NoError(t, err)
	require.False(t, result.HasProfanity)
	require.Equal(t, "great session today", result.CleanMessage)
}

func TestCheckProfanityMasksLongestMatchFirst(t *testing.T) {
	gw := newWordlistGateway("ass", "jackass")

	result, err := gw.CheckProfanity(context.Background(), "what a jackass")
	require.NoError(t, err)
	require.True(t, result.HasProfanity)
	require.Equal(t, "what a *******", result.CleanMessage)
}

func TestModerateMessageWordlistVerdict(t *testing.T) {
	gw := newWordlistGateway("damn")

	verdict, err := gw.ModerateMessage(context.Background(), "damn weights", "text")
	require.NoError(t, err)
	require.True(t, verdict.NeedsReview)
	require.Len(t, verdict.Flags, 1)
	require.Equal(t, "profanity", verdict.Flags[0].Type)

	verdict, err = gw.ModerateMessage(context.Background(), "", "image")
	require.NoError(t, err)
	require.False(t, verdict.NeedsReview)
	require.Empty(t, verdict.Flags)
}
