package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSearchQuery(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"single token", "hello", `"hello"`},
		{"operator injection", "foo OR bar", `"foo" "OR" "bar"`},
		{"embedded quote", `say "hi"`, `"say" """hi"""`},
		{"prefix star", "evil*", `"evil*"`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeSearchQuery(tc.query))
		})
	}
}
