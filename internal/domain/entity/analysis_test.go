package entity

import "testing"

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  Fed  Policy ": "Fed Policy",
		"":               UncategorizedLabel,
		"   ":            UncategorizedLabel,
		"DeFi":           "DeFi",
	}
	for in, want := range cases {
		if got := NormalizeCategory(in); got != want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClampWeightScore(t *testing.T) {
	t.Parallel()

	cases := map[int]int{-5: 0, 0: 0, 50: 50, 100: 100, 150: 100}
	for in, want := range cases {
		if got := ClampWeightScore(in); got != want {
			t.Errorf("ClampWeightScore(%d) = %d, want %d", in, got, want)
		}
	}
}
