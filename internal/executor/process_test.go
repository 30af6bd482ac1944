package executor

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLineLogWriter_EmitsOneLogPerNewline(t *testing.T) {
	w := &lineLogWriter{log: zerolog.Nop(), stream: "stderr"}

	n, err := w.Write([]byte("frame=1 fps=30\nframe=2 fps=30\npartial"))
	require.NoError(t, err)
	require.Equal(t, len("frame=1 fps=30\nframe=2 fps=30\npartial"), n)
	require.Equal(t, "partial", w.buf.String())

	_, err = w.Write([]byte(" line\n"))
	require.NoError(t, err)
	require.Equal(t, "", w.buf.String())
}

func TestLineLogWriter_TrimsCarriageReturn(t *testing.T) {
	w := &lineLogWriter{log: zerolog.Nop(), stream: "stdout"}
	_, err := w.Write([]byte("frame=3\r\n"))
	require.NoError(t, err)
	require.Equal(t, "", w.buf.String())
}

func TestLineLogWriter_SkipsBlankLines(t *testing.T) {
	w := &lineLogWriter{log: zerolog.Nop(), stream: "stdout"}
	_, err := w.Write([]byte("\n\n"))
	require.NoError(t, err)
	require.Equal(t, "", w.buf.String())
}
