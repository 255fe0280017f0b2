package strings

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		fold func(string) string
		want []string
	}{
		{name: "nil stays nil", in: nil, want: nil},
		{name: "empty stays empty", in: []string{}, want: []string{}},
		{name: "comma split env list", in: strings.Split(" db , cache,,db ", ","), want: []string{"db", "cache"}},
		{name: "blank entries dropped", in: []string{"", "  ", "x"}, want: []string{"x"}},
		{name: "case kept without fold", in: []string{"Admin", "admin"}, want: []string{"Admin", "admin"}},
		{name: "roles folded to lower", in: []string{" Admin", "ADMIN ", "user"}, fold: strings.ToLower, want: []string{"admin", "user"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in, tt.fold))
		})
	}
}
