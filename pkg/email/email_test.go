package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNameFromEmail(t *testing.T) {
	tests := []struct {
		email, first, last string
	}{
		{"grace.hopper@example.com", "Grace", "Hopper"},
		{"ADA_LOVELACE@example.com", "Ada", "Lovelace"},
		{"linus@example.com", "Linus", "User"},
		{"jean-luc.picard+work@example.com", "Jean", "Work"},
		{"@example.com", "User", "User"},
		{"...@example.com", "User", "User"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			first, last := DeriveNameFromEmail(tt.email)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}
