package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manifestLike struct {
	Version int               `json:"version"`
	Dim     int               `json:"dim"`
	Files   map[string]string `json:"files"`
}

func TestCodecs(t *testing.T) {
	in := manifestLike{Version: 1, Dim: 128, Files: map[string]string{"global": "global.bin"}}

	for _, name := range []string{"json", "go-json"} {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out manifestLike
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestByNameUnknown(t *testing.T) {
	_, ok := ByName("msgpack")
	assert.False(t, ok)

	c, ok := ByName("")
	require.True(t, ok)
	assert.Equal(t, Default.Name(), c.Name())
}

func TestMustMarshalPanics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(nil, make(chan int)) })
	assert.NotEmpty(t, MustMarshal(nil, 1))
}
