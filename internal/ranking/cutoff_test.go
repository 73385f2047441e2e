package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCutoff(t *testing.T) {
	tests := []struct {
		name   string
		scores []float32
		decay  float64
		floor  float64
		want   int
	}{
		{
			name:   "sharp drop cuts list",
			scores: []float32{0.9, 0.75, 0.5},
			decay:  0.8,
			floor:  0.6,
			want:   2, // 0.75 >= 0.9*0.8 and >= floor; 0.5 < 0.75*0.8
		},
		{
			name:   "floor cuts even gradual decline",
			scores: []float32{0.9, 0.85, 0.59, 0.58},
			decay:  0.8,
			floor:  0.6,
			want:   2,
		},
		{
			name:   "no drop keeps everything",
			scores: []float32{0.9, 0.89, 0.88},
			decay:  0.8,
			floor:  0.5,
			want:   3,
		},
		{
			name:   "single weak match survives",
			scores: []float32{0.3},
			decay:  0.8,
			floor:  0.6,
			want:   1,
		},
		{
			name:   "second weak match below floor is cut",
			scores: []float32{0.3, 0.29},
			decay:  0.8,
			floor:  0.6,
			want:   1,
		},
		{
			name:   "empty",
			scores: nil,
			decay:  0.8,
			floor:  0.6,
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Cutoff(tt.scores, tt.decay, tt.floor))
		})
	}
}
