package json

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_NoHTMLEscapeNoNewline(t *testing.T) {
	b, err := Marshal(map[string]string{"q": "a<b"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b"}`, string(b))
}

func TestUnmarshal_UsesNumber(t *testing.T) {
	var v map[string]interface{}
	require.NoError(t, Unmarshal([]byte(`{"id": 9007199254740993}`), &v))

	n, ok := v["id"].(Number)
	require.True(t, ok)
	assert.Equal(t, "9007199254740993", n.String())
}

func TestDecoder_Stream(t *testing.T) {
	dec := NewDecoder(bytes.NewBufferString("{\"a\":1}\n{\"a\":2}\n"))
	count := 0
	for dec.More() {
		var v map[string]interface{}
		require.NoError(t, dec.Decode(&v))
		count++
	}
	assert.Equal(t, 2, count)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`[1,2]`)))
	assert.False(t, Valid([]byte(`[1,`)))
}
