package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus/internal/nexusconfig"
)

func TestResolvePostfinanceH004Statement(t *testing.T) {
	order, err := Resolve(nexusconfig.DialectPostfinance, DocStatement, H004)
	require.NoError(t, err)
	require.Equal(t, H004, order.Version)
	require.NotNil(t, order.H004)
	require.Nil(t, order.H005)
	require.Equal(t, "Z53", order.H004.Type)
}

func TestResolvePostfinanceH005Statement(t *testing.T) {
	order, err := Resolve(nexusconfig.DialectPostfinance, DocStatement, H005)
	require.NoError(t, err)
	require.Equal(t, H005, order.Version)
	require.NotNil(t, order.H005)
	require.Nil(t, order.H004)
	require.Equal(t, "camt.053", order.H005.MessageName)
}

func TestResolveGLSHasNoH004Orders(t *testing.T) {
	_, err := Resolve(nexusconfig.DialectGLS, DocStatement, H004)
	require.Error(t, err)
	var unsupported *ErrUnsupported
	require.ErrorAs(t, err, &unsupported)
}

func TestResolveGLSH005CarriesSTMOption(t *testing.T) {
	order, err := Resolve(nexusconfig.DialectGLS, DocStatement, H005)
	require.NoError(t, err)
	require.Equal(t, "STM", order.H005.Option)
}

func TestResolveUnknownDialect(t *testing.T) {
	_, err := Resolve(nexusconfig.Dialect("unknown"), DocStatement, H004)
	require.Error(t, err)
	var unsupported *ErrUnsupported
	require.ErrorAs(t, err, &unsupported)
}

func TestResolveUnknownDocumentKind(t *testing.T) {
	_, err := Resolve(nexusconfig.DialectPostfinance, DocumentKind(99), H004)
	require.Error(t, err)
}
