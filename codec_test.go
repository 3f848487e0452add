package tiercache

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type buildInfo struct {
	Target string   `yaml:"target"`
	Flags  []string `yaml:"flags"`
}

func TestBytesCodec_Copies(t *testing.T) {
	var codec BytesCodec

	in := []byte("payload")
	data, err := codec.Marshal(in)
	require.NoError(t, err)
	in[0] = 'X'
	assert.Equal(t, "payload", string(data))

	out, err := codec.Unmarshal(data)
	require.NoError(t, err)
	data[0] = 'Y'
	assert.Equal(t, "payload", string(out))
}

func TestJSONCodec_UnmarshalError(t *testing.T) {
	_, err := JSONCodec[buildInfo]{}.Unmarshal([]byte("{not json"))
	assert.Error(t, err)
}

func TestYAMLCodec_SpilledRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache[buildInfo](t, YAMLCodec[buildInfo]{}, WithSpillThreshold(16))

	want := buildInfo{
		Target: "linux/amd64",
		Flags:  []string{"-trimpath", "-ldflags=" + strings.Repeat("x", 32)},
	}
	require.NoError(t, c.Set(ctx, "build", want))
	require.Equal(t, 1, c.Stats().SpilledEntries)

	got, ok := c.Get(ctx, "build")
	require.True(t, ok)
	assert.Equal(t, want, got)
}
