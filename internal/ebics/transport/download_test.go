package transport

import (
	"bytes"
	"context"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paynet/nexus/internal/ebics/catalog"
	"github.com/paynet/nexus/internal/ebicscrypto"
	"github.com/paynet/nexus/internal/xmlcodec"
)

func testOrder() catalog.Order {
	return catalog.Order{Version: catalog.H004, H004: &catalog.OrderH004{Type: "Z53", Attribute: "DZHNN"}}
}

func testIdentity() SubscriberIdentity {
	return SubscriberIdentity{HostID: "TESTHOST", PartnerID: "PARTNER1", UserID: "USER1"}
}

// signAndMarshalMockResponse attaches an X002 AuthSignature computed over
// header to root, the same way attachAuthSignature signs a real request,
// and marshals the result — so a mock bank response passes
// verifyAuthSignature.
func signAndMarshalMockResponse(t *testing.T, root, header *xmlcodec.Element, bankAuthPriv *rsa.PrivateKey) []byte {
	t.Helper()
	subtree, err := xmlcodec.Canonical(header)
	require.NoError(t, err)
	sig, err := ebicscrypto.SignX002(bankAuthPriv, subtree)
	require.NoError(t, err)
	root.Child("AuthSignature").SetBase64(sig)
	data, err := xmlcodec.Marshal(root)
	require.NoError(t, err)
	return data
}

// flipByteInElement corrupts the first occurrence of needle inside data,
// simulating tampering with a signed response after it left the bank.
func flipByteInElement(data []byte, needle string) []byte {
	idx := bytes.Index(data, []byte(needle))
	if idx < 0 {
		return data
	}
	out := append([]byte(nil), data...)
	out[idx] ^= 0x01
	return out
}

func mockReceiptResponse(t *testing.T, bankAuthPriv *rsa.PrivateKey) []byte {
	t.Helper()
	root := xmlcodec.NewElement("ebicsResponse")
	h := root.Child("header")
	mu := h.Child("mutable")
	mu.Child("ReturnCode").SetText("000000")
	b := root.Child("body")
	b.Child("ReturnCode").SetText("000000")
	return signAndMarshalMockResponse(t, root, h, bankAuthPriv)
}

// mockSingleSegmentDownloadResponse builds the one init response the
// download state machine needs for a single-segment transfer: the
// plaintext is compressed, encrypted under a fresh session key, and the
// key is wrapped under the subscriber's encryption public key, mirroring
// what a real bank's init response carries inline when NumSegments is
// absent. The response header is signed with bankAuthPriv the way a real
// bank signs its envelopes.
func mockSingleSegmentDownloadResponse(t *testing.T, keys KeyMaterial, bankAuthPriv *rsa.PrivateKey, plaintext []byte) []byte {
	t.Helper()
	sessionKey, err := ebicscrypto.GenerateSessionKey()
	require.NoError(t, err)
	deflated, err := xmlcodec.Deflate(plaintext)
	require.NoError(t, err)
	ciphertext, err := ebicscrypto.EncryptE002(sessionKey, deflated)
	require.NoError(t, err)
	wrappedKey, err := ebicscrypto.WrapSessionKey(&keys.ClientEncryption.PublicKey, sessionKey)
	require.NoError(t, err)

	root := xmlcodec.NewElement("ebicsResponse")
	header := root.Child("header")
	mutable := header.Child("mutable")
	mutable.Child("ReturnCode").SetText("000000")
	mutable.Attr("TransactionID", "TX123")
	body := root.Child("body")
	body.Child("ReturnCode").SetText("000000")
	dataTransfer := body.Child("DataTransfer")
	encInfo := dataTransfer.Child("DataEncryptionInfo")
	encInfo.Child("TransactionKey").SetText(xmlcodec.B64Encode(wrappedKey))
	dataTransfer.Child("OrderData").SetText(xmlcodec.B64Encode(ciphertext))

	return signAndMarshalMockResponse(t, root, header, bankAuthPriv)
}

func TestDownloadSingleSegmentSuccess(t *testing.T) {
	pair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{ClientEncryption: pair.Private, ClientAuth: clientAuthPair.Private, BankAuth: bankAuthPair.Public}
	plaintext := []byte("<Document>camt.053 payload</Document>")

	var receiptSeen bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqScope, _ := xmlcodec.Parse(r.Body)
		if phase, err := reqScope.One("header"); err == nil {
			if m, err := phase.One("mutable"); err == nil {
				if tp, err := m.One("TransactionPhase"); err == nil && tp.Text() == "Receipt" {
					receiptSeen = true
					w.Write(mockReceiptResponse(t, bankAuthPair.Private))
					return
				}
			}
		}
		w.Write(mockSingleSegmentDownloadResponse(t, keys, bankAuthPair.Private, plaintext))
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	result, err := Download(context.Background(), client, testIdentity(), keys, testOrder(), DateRange{})
	require.NoError(t, err)
	require.Equal(t, DownloadDone, result.Outcome)
	require.Equal(t, plaintext, result.Payload)
	require.True(t, receiptSeen, "download must send a success receipt after decoding the payload")
}

func TestDownloadEmptyWhenBankReportsNoData(t *testing.T) {
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	pair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{ClientEncryption: pair.Private, ClientAuth: clientAuthPair.Private, BankAuth: bankAuthPair.Public}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := xmlcodec.NewElement("ebicsResponse")
		header := root.Child("header")
		mutable := header.Child("mutable")
		mutable.Child("ReturnCode").SetText("090005")
		body := root.Child("body")
		body.Child("ReturnCode").SetText("000000")
		w.Write(signAndMarshalMockResponse(t, root, header, bankAuthPair.Private))
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	result, err := Download(context.Background(), client, testIdentity(), keys, testOrder(), DateRange{})
	require.NoError(t, err)
	require.Equal(t, DownloadEmpty, result.Outcome)
	require.Empty(t, result.Payload)
}

func TestDownloadFailsOnBankTechnicalError(t *testing.T) {
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	pair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{ClientEncryption: pair.Private, ClientAuth: clientAuthPair.Private, BankAuth: bankAuthPair.Public}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := xmlcodec.NewElement("ebicsResponse")
		header := root.Child("header")
		mutable := header.Child("mutable")
		mutable.Child("ReturnCode").SetText("091002")
		body := root.Child("body")
		body.Child("ReturnCode").SetText("000000")
		w.Write(signAndMarshalMockResponse(t, root, header, bankAuthPair.Private))
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	_, err = Download(context.Background(), client, testIdentity(), keys, testOrder(), DateRange{})
	require.Error(t, err)
	var bankErr *BankTechnicalError
	require.ErrorAs(t, err, &bankErr)
}

// TestDownloadRejectsTamperedInitResponse flips a byte inside the signed
// header subtree after signing, leaving the AuthSignature itself
// untouched, and asserts Download rejects the response rather than
// acting on it.
func TestDownloadRejectsTamperedInitResponse(t *testing.T) {
	bankAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	pair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	clientAuthPair, err := ebicscrypto.GenerateKeyPair(2048)
	require.NoError(t, err)
	keys := KeyMaterial{ClientEncryption: pair.Private, ClientAuth: clientAuthPair.Private, BankAuth: bankAuthPair.Public}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		root := xmlcodec.NewElement("ebicsResponse")
		header := root.Child("header")
		mutable := header.Child("mutable")
		mutable.Child("ReturnCode").SetText("000000")
		mutable.Attr("TransactionID", "TX123")
		body := root.Child("body")
		body.Child("ReturnCode").SetText("000000")
		data := signAndMarshalMockResponse(t, root, header, bankAuthPair.Private)

		tampered := flipByteInElement(data, "TX123")
		w.Write(tampered)
	}))
	defer server.Close()

	client := NewClient("TESTHOST", server.URL, zap.NewNop())
	_, err = Download(context.Background(), client, testIdentity(), keys, testOrder(), DateRange{})
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestAddDateRangeOmittedWhenZero(t *testing.T) {
	el := xmlcodec.NewElement("OrderDetails")
	addDateRange(el, DateRange{})
	data, err := xmlcodec.Marshal(el)
	require.NoError(t, err)
	require.NotContains(t, string(data), "DateRange")
}
