package matcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/social-monitor/internal/monitor"
)

func ptr[T any](v T) *T { return &v }

func TestEvaluateTermKinds(t *testing.T) {
	t.Parallel()

	rule := monitor.Rule{
		Keywords: []string{"Bitcoin", "halving"},
		Hashtags: []string{"#DeFi", "nft"},
		Accounts: []string{"@VitalikButerin"},
	}
	post := monitor.RawPost{
		Author:  "vitalikbuterin",
		Content: "Thoughts on BITCOIN and #defi summer",
	}

	res := New().Evaluate(post, rule)
	require.True(t, res.Matched)
	require.Equal(t, []monitor.Evidence{
		{Term: "Bitcoin", Kind: monitor.MatchKeyword},
		{Term: "#DeFi", Kind: monitor.MatchHashtag},
		{Term: "@VitalikButerin", Kind: monitor.MatchAccount},
	}, res.Evidence)
}

func TestEvaluateAccountIsExact(t *testing.T) {
	t.Parallel()

	rule := monitor.Rule{Accounts: []string{"satoshi"}}
	res := New().Evaluate(monitor.RawPost{Author: "satoshi_fan", Content: "hello"}, rule)
	require.False(t, res.Matched)
	require.Equal(t, ReasonNoTerms, res.Reason)
}

func TestEvaluateExcludeKeywordVetoes(t *testing.T) {
	t.Parallel()

	rule := monitor.Rule{Keywords: []string{"eth"}, ExcludeKeywords: []string{"giveaway"}}
	res := New().Evaluate(monitor.RawPost{Content: "ETH GIVEAWAY click here"}, rule)
	require.False(t, res.Matched)
	require.Equal(t, ReasonExcluded, res.Reason)
	require.Len(t, res.Evidence, 1)
}

func TestEvaluateSentimentGate(t *testing.T) {
	t.Parallel()

	rule := monitor.Rule{Keywords: []string{"btc"}, SentimentThreshold: ptr(10)}
	m := New()

	weak := m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(0.05)}, rule)
	require.False(t, weak.Matched)
	require.Equal(t, ReasonSentiment, weak.Reason)
	require.NotEmpty(t, weak.Evidence)

	missing := m.Evaluate(monitor.RawPost{Content: "btc"}, rule)
	require.False(t, missing.Matched)

	require.True(t, m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(-0.4)}, rule).Matched)
	require.True(t, m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(0.1)}, rule).Matched)

	negative := monitor.Rule{Keywords: []string{"btc"}, SentimentThreshold: ptr(-30)}
	require.True(t, m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(0.3)}, negative).Matched)
	require.False(t, m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(0.29)}, negative).Matched)
}

func TestEvaluateSentimentThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	m := New()
	rule := monitor.Rule{Keywords: []string{"btc"}, SentimentThreshold: ptr(10)}
	for _, score := range []float64{0.1, -0.1, 0.11} {
		require.True(t, m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(score)}, rule).Matched, score)
	}
	for _, score := range []float64{0.0999, -0.05, 0} {
		require.False(t, m.Evaluate(monitor.RawPost{Content: "btc", Sentiment: ptr(score)}, rule).Matched, score)
	}
}

func TestEvaluateEngagementGate(t *testing.T) {
	t.Parallel()

	rule := monitor.Rule{Keywords: []string{"sol"}, EngagementThreshold: 10}
	m := New()

	low := m.Evaluate(monitor.RawPost{Content: "sol pump", Engagement: monitor.Engagement{Likes: 3, Comments: 2}}, rule)
	require.False(t, low.Matched)
	require.Equal(t, ReasonEngagement, low.Reason)

	enough := m.Evaluate(monitor.RawPost{Content: "sol pump", Engagement: monitor.Engagement{Likes: 3, Shares: 2, Comments: 2, Views: 3}}, rule)
	require.True(t, enough.Matched)
}

func TestEvaluateNoDuplicateEvidence(t *testing.T) {
	t.Parallel()

	rule := monitor.Rule{Keywords: []string{"doge", "doge", "  "}}
	res := New().Evaluate(monitor.RawPost{Content: "doge doge doge"}, rule)
	require.True(t, res.Matched)
	require.Len(t, res.Evidence, 1)
}
