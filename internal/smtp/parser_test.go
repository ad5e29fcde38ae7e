package smtp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type parsed struct {
	responses []Response
	errs      []error
}

func newTestParser() (*Parser, *parsed) {
	out := &parsed{}
	p := NewParser(
		func(r Response) { out.responses = append(out.responses, r) },
		func(err error) { out.errs = append(out.errs, err) },
	)
	return p, out
}

func TestParserMultiLineAcrossChunks(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Feed("250-smtp.example.com\r\n250-AUTH PL"))
	assert.Empty(t, out.responses)
	require.NoError(t, p.Feed("AIN LOGIN\r\n250 SIZE 1000\r\n"))

	require.Len(t, out.responses, 1)
	r := out.responses[0]
	assert.Equal(t, 250, r.StatusCode)
	assert.True(t, r.Success)
	assert.Equal(t, "smtp.example.com\nAUTH PLAIN LOGIN\nSIZE 1000", r.Data)
	assert.Equal(t, "250-smtp.example.com\n250-AUTH PLAIN LOGIN\n250 SIZE 1000", r.Line)
	assert.Empty(t, out.errs)
}

func TestParserByteAtATime(t *testing.T) {
	p, out := newTestParser()

	input := "220 mx ready\r\n250-first\n250 second\r\n"
	for i := 0; i < len(input); i++ {
		require.NoError(t, p.Feed(input[i:i+1]))
	}

	require.Len(t, out.responses, 2)
	assert.Equal(t, 220, out.responses[0].StatusCode)
	assert.Equal(t, "mx ready", out.responses[0].Data)
	assert.Equal(t, "first\nsecond", out.responses[1].Data)
}

func TestParserEnhancedStatus(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Feed("550 5.1.1 No such user here\r\n"))

	require.Len(t, out.responses, 1)
	r := out.responses[0]
	assert.Equal(t, 550, r.StatusCode)
	assert.Equal(t, "5.1.1", r.EnhancedStatus)
	assert.Equal(t, "No such user here", r.Data)
	assert.False(t, r.Success)
	assert.True(t, r.Permanent())
	assert.False(t, r.Temporary())
}

func TestParserMalformedLineKeepsGoing(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Feed("garbage\r\n\r\n250 OK\r\n"))

	require.Len(t, out.responses, 2)
	assert.False(t, out.responses[0].Success)
	assert.Equal(t, "garbage", out.responses[0].Data)
	assert.Equal(t, "garbage", out.responses[0].Line)
	assert.True(t, out.responses[1].Success)

	require.Len(t, out.errs, 1)
	assert.True(t, errors.Is(out.errs[0], ErrMalformedLine))
	assert.Equal(t, KindMalformedResponse, KindOf(out.errs[0]))
}

func TestParserMalformedLineInsideBlock(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Feed("250-first\r\n???\r\n250 OK\r\n"))

	require.Len(t, out.responses, 2)
	assert.Equal(t, 250, out.responses[0].StatusCode)
	assert.False(t, out.responses[0].Success)
	assert.Equal(t, "OK", out.responses[1].Data)
}

func TestParserInconsistentStatusCode(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Feed("250-a\r\n251-b\r\n250 c\r\n"))

	require.Len(t, out.errs, 1)
	assert.True(t, errors.Is(out.errs[0], ErrInconsistentStatusCode))
	require.Len(t, out.responses, 1)
	assert.Equal(t, "a\nb\nc", out.responses[0].Data)
}

func TestParserFinishFlushesRemainder(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Feed("221 bye"))
	assert.Empty(t, out.responses)

	require.NoError(t, p.Finish(""))
	require.Len(t, out.responses, 1)
	assert.Equal(t, 221, out.responses[0].StatusCode)

	err := p.Feed("250 OK\r\n")
	assert.ErrorIs(t, err, ErrParserClosed)
	assert.Equal(t, KindUsage, KindOf(err))
	assert.ErrorIs(t, p.Finish(""), ErrParserClosed)
}

func TestParserFinishWithTrailing(t *testing.T) {
	p, out := newTestParser()

	require.NoError(t, p.Finish("250-a\r\n250 b"))

	require.Len(t, out.responses, 1)
	assert.Equal(t, "a\nb", out.responses[0].Data)
}
