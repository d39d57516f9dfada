package retcode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupKnownCode(t *testing.T) {
	c, err := Lookup("000000")
	require.NoError(t, err)
	require.Equal(t, OK, c)
}

func TestLookupNoDownloadDataIsWarningNotError(t *testing.T) {
	c, err := Lookup("090005")
	require.NoError(t, err)
	require.Equal(t, Warning, c.Severity)
}

func TestLookupUnknownCode(t *testing.T) {
	_, err := Lookup("999999")
	require.Error(t, err)
	var unknown *ErrUnknownCode
	require.ErrorAs(t, err, &unknown)
}

func TestClassifyDigitsFallback(t *testing.T) {
	require.Equal(t, Information, ClassifyDigits("001234"))
	require.Equal(t, Note, ClassifyDigits("011234"))
	require.Equal(t, Warning, ClassifyDigits("031234"))
	require.Equal(t, Error, ClassifyDigits("061234"))
	require.Equal(t, Error, ClassifyDigits("091234"))
	require.Equal(t, Error, ClassifyDigits("x"))
}

func TestIsTransientOnlyProcessingAndInternalErrors(t *testing.T) {
	require.True(t, IsTransient(ProcessingError))
	require.True(t, IsTransient(InternalError))
	require.False(t, IsTransient(AuthenticationFailed))
	require.False(t, IsTransient(OK))
}
