package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"5216682478005", "6682478005"},
		{"526682478005", "6682478005"},
		{"6682478005", "6682478005"},
		{"+52 1 668 247 8005", "6682478005"},
		{"668-247-8005", "6682478005"},
		{"12345", "12345"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, NormalizePhone(tc.in), "input %q", tc.in)
	}
}

func TestLast10MatchesNormalized(t *testing.T) {
	require.Equal(t, NormalizePhone("5216682478005"), Last10("668 247 8005"))
}
