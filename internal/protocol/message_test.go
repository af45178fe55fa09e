package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello", Normalize([]byte("  hello\r\n")))
	assert.Equal(t, "two words", Normalize([]byte("two words\n")))
	assert.Equal(t, "", Normalize(nil))
	assert.Equal(t, "", Normalize([]byte(" \n\t")))
}

func TestValidateMessageLimit(t *testing.T) {
	require.NoError(t, ValidateMessage(strings.Repeat("a", MaxMessageLen)))
	require.ErrorIs(t, ValidateMessage(strings.Repeat("a", MaxMessageLen+1)), ErrMessageTooLong)
	require.NoError(t, ValidateMessage(""))
	assert.Equal(t, "Message can be at most 100 characters.", ErrMessageTooLong.Error())
}

func TestValidateMessageCountsCharacters(t *testing.T) {
	// 100 two-byte runes are still 100 characters.
	require.NoError(t, ValidateMessage(strings.Repeat("é", MaxMessageLen)))
	require.Error(t, ValidateMessage(strings.Repeat("é", MaxMessageLen+1)))
}

func TestParsePort(t *testing.T) {
	for _, ok := range []string{"1", "5000", "65535"} {
		_, err := ParsePort(ok)
		assert.NoError(t, err, ok)
	}
	for _, bad := range []string{"", "0", "-1", "65536", "abc", "50a"} {
		_, err := ParsePort(bad)
		assert.ErrorIs(t, err, ErrInvalidPort, bad)
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("3")
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	for _, bad := range []string{"", "0", "-2", "x", "1.5", "01", "+1"} {
		_, err := ParseID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestSplitEndpoint(t *testing.T) {
	host, port, err := SplitEndpoint("127.0.0.1:5001")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 5001, port)

	host, port, err = SplitEndpoint("[::1]:80")
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, 80, port)

	_, _, err = SplitEndpoint("nohost")
	require.Error(t, err)
	assert.Equal(t, "10.0.0.1:22", Endpoint("10.0.0.1", 22))
}
