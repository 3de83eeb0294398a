package sentiment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify_EmptyTextIsNeutral(t *testing.T) {
	t.Parallel()

	v := Classify("")
	require.Equal(t, Neutral, v.Label)
	require.NotNil(t, v.Score)
	require.InDelta(t, 0.0, *v.Score, 1e-9)
	require.Equal(t, Labels{}, v.Labels)
}

func TestClassify_SensitiveOverridesSentimentScoring(t *testing.T) {
	t.Parallel()

	v := Classify("赌博 and 开心")
	require.Equal(t, Sensitive, v.Label)
	require.NotNil(t, v.Score)
	require.InDelta(t, -1.0, *v.Score, 1e-9)
	require.True(t, v.Labels.Illegal)
	require.True(t, v.Labels.Sensitive)
	require.False(t, v.Labels.Adult)
	require.False(t, v.Labels.Political)
	require.False(t, v.Labels.Violence)
}

func TestClassify_FirstSensitiveCategoryWins(t *testing.T) {
	t.Parallel()

	v := Classify("色情 反党 暴力 诈骗")
	require.Equal(t, Sensitive, v.Label)
	require.Equal(t, Labels{Sensitive: true, Adult: true}, v.Labels)

	v = Classify("这是暴力也是诈骗")
	require.Equal(t, Labels{Sensitive: true, Violence: true}, v.Labels)
}

func TestClassify_ScoreThresholds(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		text  string
		label Label
		score float64
	}{
		{"two positive one negative", "开心 开心 讨厌", Positive, 1.0 / 3.0},
		{"balanced", "开心 讨厌", Neutral, 0},
		{"all negative", "难过 失望", Negative, -1},
		{"no keywords", "今天去了图书馆", Neutral, 0},
		{"emoji positive", "今天 👍🎉", Positive, 1},
		{"one positive two negative", "加油 生气 失败", Negative, -1.0 / 3.0},
		{"upper case latin is folded", "HELLO 快乐", Positive, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := Classify(tc.text)
			require.Equal(t, tc.label, v.Label)
			require.NotNil(t, v.Score)
			require.InDelta(t, tc.score, *v.Score, 1e-9)
			require.False(t, v.Labels.Sensitive)
		})
	}
}

func TestClassify_ScoreStaysInRange(t *testing.T) {
	t.Parallel()

	inputs := []string{"棒棒 棒 赞", "恨 恨 恨 爱", "垃圾 废物 没用 😭", "x"}
	for _, in := range inputs {
		v := Classify(in)
		require.NotNil(t, v.Score)
		require.GreaterOrEqual(t, *v.Score, -1.0)
		require.LessOrEqual(t, *v.Score, 1.0)
		require.True(t, v.Label.Valid())
	}
}

func TestLabelValid(t *testing.T) {
	t.Parallel()

	require.True(t, Positive.Valid())
	require.True(t, Sensitive.Valid())
	require.False(t, Label("angry").Valid())
}

func FuzzClassify(f *testing.F) {
	for _, seed := range []string{"", "开心", "赌博", "😭😭", "mixed 开心 讨厌"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, text string) {
		v := Classify(text)
		if !v.Label.Valid() {
			t.Fatalf("Classify(%q) returned invalid label %q", text, v.Label)
		}
		if v.Score == nil || *v.Score < -1 || *v.Score > 1 {
			t.Fatalf("Classify(%q) returned score out of range: %v", text, v.Score)
		}
		if v.Label == Sensitive != v.Labels.Sensitive {
			t.Fatalf("Classify(%q) sensitive flag mismatch: %+v", text, v)
		}
	})
}
