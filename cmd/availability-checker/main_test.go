package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseASINs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"B001", []string{"B001"}},
		{" B001, ,B002 ,", []string{"B001", "B002"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseASINs(tt.in), tt.in)
	}
}
