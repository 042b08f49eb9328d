package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		name       string
		input      ListOptions
		wantLimit  int
		wantOffset int
	}{
		{"defaults", ListOptions{Limit: 0, Offset: 0}, 20, 0},
		{"negative limit", ListOptions{Limit: -5, Offset: 0}, 20, 0},
		{"over max", ListOptions{Limit: 200, Offset: 0}, 100, 0},
		{"negative offset", ListOptions{Limit: 10, Offset: -3}, 10, 0},
		{"valid", ListOptions{Limit: 50, Offset: 10, FlowName: "etl"}, 50, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Clamp()
			assert.Equal(t, tt.wantLimit, tt.input.Limit)
			assert.Equal(t, tt.wantOffset, tt.input.Offset)
		})
	}
}

func TestListOptions_Page(t *testing.T) {
	opts := ListOptions{Limit: 2, Offset: 2}
	assert.Equal(t, &Pagination{Total: 5, Limit: 2, Offset: 2, HasMore: true}, opts.Page(2, 5))
	assert.False(t, opts.Page(1, 3).HasMore)
}
