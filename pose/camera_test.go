package pose

import (
	"testing"

	"github.com/hupe1980/hloc/mapdb"
	"github.com/stretchr/testify/assert"
)

func TestCameraNormalizeInvertsProject(t *testing.T) {
	tests := []struct {
		name   string
		radial float64
	}{
		{"Pinhole", 0},
		{"Barrel", -0.05},
		{"Pincushion", 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cam := NewCamera(mapdb.NewSimpleRadial(1024, 768, 800, 512, 384, tt.radial))
			for _, xc := range [][3]float64{{0, 0, 5}, {1, -0.5, 4}, {-2, 1.5, 10}} {
				px, ok := cam.Project(xc)
				assert.True(t, ok)

				n := cam.Normalize(px)
				assert.InDelta(t, xc[0]/xc[2], n[0], 1e-9)
				assert.InDelta(t, xc[1]/xc[2], n[1], 1e-9)

				b := cam.Bearing(px)
				want := normalize(xc)
				for i := range 3 {
					assert.InDelta(t, want[i], b[i], 1e-9)
				}
			}
		})
	}
}

func TestCameraProjectBehind(t *testing.T) {
	cam := NewCamera(mapdb.NewSimpleRadial(640, 480, 500, 320, 240, 0))
	_, ok := cam.Project([3]float64{0, 0, -1})
	assert.False(t, ok)
	_, ok = cam.Project([3]float64{1, 1, 0})
	assert.False(t, ok)
	assert.Equal(t, 500.0, cam.Focal())
}
