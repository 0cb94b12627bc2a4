package clipboard

import (
	"errors"
	"testing"

	"github.com/atotto/clipboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAll(t *testing.T) {
	if clipboard.Unsupported {
		assert.ErrorIs(t, New().WriteAll("x"), ErrUnsupported)
		return
	}

	var got string
	s := &System{write: func(text string) error {
		got = text
		return nil
	}}
	require.NoError(t, s.WriteAll("000201"))
	assert.Equal(t, "000201", got)

	s.write = func(string) error { return errors.New("xclip: exit 1") }
	err := s.WriteAll("000201")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write clipboard")
}
