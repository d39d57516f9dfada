package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paynet/nexus/internal/ebicscrypto"
	"github.com/paynet/nexus/internal/xmlcodec"
)

func TestUploadSingleSegmentSuccess(t *testing.T) {
	sigPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	encPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{
		ClientSignature: sigPair.Private,
		BankEncryption:  encPair.Public,
		ClientAuth:      clientAuthPair.Private,
		BankAuth:        bankAuthPair.Public,
	}

	var sawInit, sawTransfer bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqScope, err := xmlcodec.Parse(r.Body)
		require.NoError(t, err)
		header, err := reqScope.One("header")
		require.NoError(t, err)
		mutable, err := header.One("mutable")
		require.NoError(t, err)
		phase, err := mutable.One("TransactionPhase")
		require.NoError(t, err)

		root := xmlcodec.NewElement("ebicsResponse")
		h := root.Child("header")
		mu := h.Child("mutable")
		mu.Child("ReturnCode").SetText("000000")
		b := root.Child("body")
		b.Child("ReturnCode").SetText("000000")

		switch phase.Text() {
		case "Initialisation":
			sawInit = true
			mu.Attr("TransactionID", "TX456")
		case "Transfer":
			sawTransfer = true
			mu.Attr("OrderID", "ORD789")
		}

		w.Write(signAndMarshalMockResponse(t, root, h, bankAuthPair.Private))
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	result, err := Upload(context.Background(), client, testIdentity(), keys, testOrder(), []byte("<Document>pain.001 payload</Document>"))
	require.NoError(t, err)
	require.Equal(t, UploadDone, result.Outcome)
	require.Equal(t, "ORD789", result.OrderID)
	require.True(t, sawInit)
	require.True(t, sawTransfer)
}

func TestUploadFailsOnRejectedInit(t *testing.T) {
	sigPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	encPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{
		ClientSignature: sigPair.Private,
		BankEncryption:  encPair.Public,
		ClientAuth:      clientAuthPair.Private,
		BankAuth:        bankAuthPair.Public,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := xmlcodec.NewElement("ebicsResponse")
		h := root.Child("header")
		mu := h.Child("mutable")
		mu.Child("ReturnCode").SetText("091005")
		b := root.Child("body")
		b.Child("ReturnCode").SetText("000000")
		w.Write(signAndMarshalMockResponse(t, root, h, bankAuthPair.Private))
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	_, err = Upload(context.Background(), client, testIdentity(), keys, testOrder(), []byte("<Document/>"))
	require.Error(t, err)
	var bankErr *BankTechnicalError
	require.ErrorAs(t, err, &bankErr)
}

// TestUploadRejectsTamperedInitResponse flips a byte inside the signed
// header subtree after signing, leaving the AuthSignature itself
// untouched, and asserts Upload rejects the response rather than acting
// on it.
func TestUploadRejectsTamperedInitResponse(t *testing.T) {
	sigPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	encPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{
		ClientSignature: sigPair.Private,
		BankEncryption:  encPair.Public,
		ClientAuth:      clientAuthPair.Private,
		BankAuth:        bankAuthPair.Public,
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := xmlcodec.NewElement("ebicsResponse")
		h := root.Child("header")
		mu := h.Child("mutable")
		mu.Child("ReturnCode").SetText("000000")
		mu.Attr("TransactionID", "TX456")
		b := root.Child("body")
		b.Child("ReturnCode").SetText("000000")
		data := signAndMarshalMockResponse(t, root, h, bankAuthPair.Private)

		tampered := flipByteInElement(data, "TX456")
		w.Write(tampered)
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	_, err = Upload(context.Background(), client, testIdentity(), keys, testOrder(), []byte("<Document/>"))
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestSplitSegmentsProducesOneEmptySegmentForEmptyInput(t *testing.T) {
	segments := splitSegments("", 1024)
	require.Equal(t, []string{""}, segments)
}

func TestSplitSegmentsRespectsBoundary(t *testing.T) {
	segments := splitSegments("abcdefghij", 4)
	require.Equal(t, []string{"abcd", "efgh", "ij"}, segments)
}
