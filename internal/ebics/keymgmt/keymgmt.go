// Package keymgmt implements the three single-shot EBICS key-management
// flows — INI, HIA, HPB — that bootstrap a blank subscriber before any
// business transport call can succeed (spec.md §4.E). Each flow reuses
// the HTTP+XML client and envelope helpers from internal/ebics/transport.
package keymgmt

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"

	"github.com/paynet/nexus/internal/ebics/retcode"
	"github.com/paynet/nexus/internal/ebics/transport"
	"github.com/paynet/nexus/internal/ebicscrypto"
	"github.com/paynet/nexus/internal/xmlcodec"
)

// ErrKeyMgmtRejected is returned when a key-management response carries
// an Error-severity technical code (spec.md §4.E).
type ErrKeyMgmtRejected struct {
	Flow string
	Code retcode.Code
}

func (e *ErrKeyMgmtRejected) Error() string {
	return fmt.Sprintf("keymgmt: %s rejected: %s (%s)", e.Flow, e.Code.Value, e.Code.Description)
}

// BankKeys is the pair of bank public keys and their digests an HPB
// response delivers.
type BankKeys struct {
	Authentication       *rsa.PublicKey
	AuthenticationDigest [32]byte
	Encryption           *rsa.PublicKey
	EncryptionDigest     [32]byte
}

// SendINI submits the subscriber's signature public key in an unsigned
// envelope. H004 carries it as PubKeyValue/RSAKeyValue; H005 carries it
// as an X.509 certificate — this gateway always emits the H004 shape
// since both dialects' banks accept it for the INI order.
func SendINI(ctx context.Context, client *transport.Client, id transport.SubscriberIdentity, signatureKey *rsa.PublicKey) error {
	return sendKeyOrder(ctx, client, id, "INI", func(root *xmlcodec.Element) {
		pubKeyInfo := root.Child("SignaturePubKeyInfo")
		writeRSAKeyValue(pubKeyInfo, signatureKey)
		pubKeyInfo.Child("SignatureVersion").SetText("A006")
	})
}

// SendHIA submits the subscriber's authentication and encryption public
// keys, also unsigned.
func SendHIA(ctx context.Context, client *transport.Client, id transport.SubscriberIdentity, authKey, encKey *rsa.PublicKey) error {
	return sendKeyOrder(ctx, client, id, "HIA", func(root *xmlcodec.Element) {
		authInfo := root.Child("AuthenticationPubKeyInfo")
		writeRSAKeyValue(authInfo, authKey)
		authInfo.Child("AuthenticationVersion").SetText("X002")

		encInfo := root.Child("EncryptionPubKeyInfo")
		writeRSAKeyValue(encInfo, encKey)
		encInfo.Child("EncryptionVersion").SetText("E002")
	})
}

// RequestHPB sends the signed, no-pub-key-digests HPB request and
// returns the bank's two public keys decrypted from the response's
// order-data block (spec.md §4.E).
func RequestHPB(ctx context.Context, client *transport.Client, id transport.SubscriberIdentity, authPriv, encPriv *rsa.PrivateKey) (BankKeys, error) {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", "H004").Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "true")
	static := header.Child("static")
	static.Child("HostID").SetText(id.HostID)
	static.Child("PartnerID").SetText(id.PartnerID)
	static.Child("UserID").SetText(id.UserID)
	static.Child("SecurityMedium").SetText("0000")
	od := static.Child("OrderDetails")
	od.Child("OrderType").SetText("HPB")
	od.Child("OrderAttribute").SetText("DZNNN")
	header.Child("mutable").Child("TransactionPhase").SetText("Initialisation")
	root.Child("body")

	authSubtree, err := xmlcodec.Canonical(header)
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: canonicalize HPB header: %w", err)
	}
	signature, err := ebicscrypto.SignX002(authPriv, authSubtree)
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: sign HPB request: %w", err)
	}
	root.Child("AuthSignature").SetBase64(signature)

	reqBytes, err := xmlcodec.Marshal(root)
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: marshal HPB request: %w", err)
	}

	respBytes, err := client.Post(ctx, reqBytes)
	if err != nil {
		return BankKeys{}, err
	}
	resp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: parse HPB response: %w", err)
	}
	if err := checkTechnicalCode(resp, "HPB"); err != nil {
		return BankKeys{}, err
	}

	body, err := resp.One("body")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: HPB response missing body: %w", err)
	}
	dataTransfer, err := body.One("DataTransfer")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: HPB response missing DataTransfer: %w", err)
	}
	encInfo, err := dataTransfer.One("DataEncryptionInfo")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: HPB response missing DataEncryptionInfo: %w", err)
	}
	wrappedKeyScope, err := encInfo.One("TransactionKey")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: HPB response missing TransactionKey: %w", err)
	}
	wrappedKey, err := xmlcodec.B64Decode(wrappedKeyScope.Text())
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: decode TransactionKey: %w", err)
	}
	sessionKey, err := ebicscrypto.UnwrapSessionKey(encPriv, wrappedKey)
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: unwrap HPB session key: %w", err)
	}

	orderDataScope, err := dataTransfer.One("OrderData")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: HPB response missing OrderData: %w", err)
	}
	ciphertext, err := xmlcodec.B64Decode(orderDataScope.Text())
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: decode OrderData: %w", err)
	}
	deflated, err := ebicscrypto.DecryptE002(sessionKey, ciphertext)
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: decrypt HPB order data: %w", err)
	}
	plaintext, err := xmlcodec.Inflate(deflated)
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: inflate HPB order data: %w", err)
	}

	return parseBankPublicKeys(plaintext)
}

func parseBankPublicKeys(orderData []byte) (BankKeys, error) {
	root, err := xmlcodec.Parse(bytes.NewReader(orderData))
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: parse bank public key order data: %w", err)
	}

	authScope, err := root.One("AuthenticationPubKeyInfo")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: missing AuthenticationPubKeyInfo: %w", err)
	}
	authKey, err := readRSAKeyValue(authScope)
	if err != nil {
		return BankKeys{}, err
	}

	encScope, err := root.One("EncryptionPubKeyInfo")
	if err != nil {
		return BankKeys{}, fmt.Errorf("keymgmt: missing EncryptionPubKeyInfo: %w", err)
	}
	encKey, err := readRSAKeyValue(encScope)
	if err != nil {
		return BankKeys{}, err
	}

	return BankKeys{
		Authentication:       authKey,
		AuthenticationDigest: ebicscrypto.PublicKeyDigest(authKey),
		Encryption:           encKey,
		EncryptionDigest:     ebicscrypto.PublicKeyDigest(encKey),
	}, nil
}

func sendKeyOrder(ctx context.Context, client *transport.Client, id transport.SubscriberIdentity, orderType string, buildBody func(*xmlcodec.Element)) error {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", "H004").Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "false")
	static := header.Child("static")
	static.Child("HostID").SetText(id.HostID)
	static.Child("PartnerID").SetText(id.PartnerID)
	static.Child("UserID").SetText(id.UserID)
	static.Child("SecurityMedium").SetText("0000")
	od := static.Child("OrderDetails")
	od.Child("OrderType").SetText(orderType)
	od.Child("OrderAttribute").SetText("DZNNN")
	header.Child("mutable").Child("TransactionPhase").SetText("Initialisation")

	body := root.Child("body")
	buildBody(body)

	reqBytes, err := xmlcodec.Marshal(root)
	if err != nil {
		return fmt.Errorf("keymgmt: marshal %s request: %w", orderType, err)
	}
	respBytes, err := client.Post(ctx, reqBytes)
	if err != nil {
		return err
	}
	resp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
	if err != nil {
		return fmt.Errorf("keymgmt: parse %s response: %w", orderType, err)
	}
	return checkTechnicalCode(resp, orderType)
}

// checkTechnicalCode reads the technical return code from a response
// that may or may not carry a DataTransfer block — INI/HIA responses
// have none, per spec.md §4.E's "Response parsing tolerates absent
// DataTransfer" note.
func checkTechnicalCode(resp *xmlcodec.Scope, flow string) error {
	body, err := resp.One("body")
	if err != nil {
		return fmt.Errorf("keymgmt: %s response missing body: %w", flow, err)
	}
	codeScope, err := body.One("ReturnCode")
	if err != nil {
		return fmt.Errorf("keymgmt: %s response missing ReturnCode: %w", flow, err)
	}
	code, lookupErr := retcode.Lookup(codeScope.Text())
	if lookupErr != nil {
		code = retcode.Code{Value: codeScope.Text(), Description: "unregistered code", Severity: retcode.ClassifyDigits(codeScope.Text())}
	}
	if code.Severity == retcode.Error {
		return &ErrKeyMgmtRejected{Flow: flow, Code: code}
	}
	return nil
}

func writeRSAKeyValue(parent *xmlcodec.Element, key *rsa.PublicKey) {
	pubKeyValue := parent.Child("PubKeyValue")
	rsaKeyValue := pubKeyValue.Child("RSAKeyValue")
	rsaKeyValue.Child("Exponent").SetBase64(bigIntBytes(int64(key.E)))
	rsaKeyValue.Child("Modulus").SetBase64(key.N.Bytes())
}

func readRSAKeyValue(scope *xmlcodec.Scope) (*rsa.PublicKey, error) {
	pubKeyValue, err := scope.One("PubKeyValue")
	if err != nil {
		return nil, fmt.Errorf("keymgmt: missing PubKeyValue: %w", err)
	}
	rsaKeyValue, err := pubKeyValue.One("RSAKeyValue")
	if err != nil {
		return nil, fmt.Errorf("keymgmt: missing RSAKeyValue: %w", err)
	}
	expScope, err := rsaKeyValue.One("Exponent")
	if err != nil {
		return nil, fmt.Errorf("keymgmt: missing Exponent: %w", err)
	}
	modScope, err := rsaKeyValue.One("Modulus")
	if err != nil {
		return nil, fmt.Errorf("keymgmt: missing Modulus: %w", err)
	}
	expBytes, err := xmlcodec.B64Decode(expScope.Text())
	if err != nil {
		return nil, fmt.Errorf("keymgmt: decode Exponent: %w", err)
	}
	modBytes, err := xmlcodec.B64Decode(modScope.Text())
	if err != nil {
		return nil, fmt.Errorf("keymgmt: decode Modulus: %w", err)
	}
	return ebicscrypto.PublicKeyFromComponents(modBytes, expBytes), nil
}

func bigIntBytes(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v & 0xff)}, b...)
		v >>= 8
	}
	return b
}
