package transport

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/paynet/nexus/internal/ebics/retcode"
	"github.com/paynet/nexus/internal/ebicscrypto"
	"github.com/paynet/nexus/internal/xmlcodec"
)

// nonce returns a 128-bit random nonce hex-encoded, as every EBICS
// request's static header requires (spec.md §4.F step 1).
func nonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("transport: generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// timestamp formats the current UTC time the way EBICS static headers
// carry it.
func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// SubscriberIdentity is the trio of identifiers every EBICS request's
// static header carries.
type SubscriberIdentity struct {
	HostID    string
	PartnerID string
	UserID    string
}

func buildStaticHeader(parent *xmlcodec.Element, id SubscriberIdentity, txNonce string) *xmlcodec.Element {
	static := parent.Child("static")
	static.Child("HostID").SetText(id.HostID)
	static.Child("Nonce").SetText(txNonce)
	static.Child("Timestamp").SetText(timestamp())
	static.Child("PartnerID").SetText(id.PartnerID)
	static.Child("UserID").SetText(id.UserID)
	static.Child("Product").Attr("Language", "en").SetText("nexus")
	static.Child("SecurityMedium").SetText("0000")
	return static
}

func bankPubKeyDigests(parent *xmlcodec.Element, keys KeyMaterial) {
	digests := parent.Child("BankPubKeyDigests")
	digests.Child("Authentication").Attr("Version", "X002").SetBase64(keys.BankAuthDigest[:])
	digests.Child("Encryption").Attr("Version", "E002").SetBase64(keys.BankEncryptionDigest[:])
}

// attachAuthSignature canonicalizes header (the authenticate="true"
// subtree) and attaches the resulting X002 signature to root, the same
// way keymgmt.go's RequestHPB signs its own request (spec.md §4.F
// Common: "the bank's envelope must carry a valid X002 signature").
func attachAuthSignature(root, header *xmlcodec.Element, authPriv *rsa.PrivateKey) error {
	subtree, err := xmlcodec.Canonical(header)
	if err != nil {
		return fmt.Errorf("transport: canonicalize auth subtree: %w", err)
	}
	signature, err := ebicscrypto.SignX002(authPriv, subtree)
	if err != nil {
		return fmt.Errorf("transport: sign auth subtree: %w", err)
	}
	root.Child("AuthSignature").SetBase64(signature)
	return nil
}

// verifyAuthSignature checks the X002 signature on a parsed response
// envelope against the bank's authentication public key, rejecting any
// tampering with the signed header subtree (spec.md §4.F Common, §8).
func verifyAuthSignature(resp *xmlcodec.Scope, bankAuthPub *rsa.PublicKey) error {
	header, err := resp.One("header")
	if err != nil {
		return &ProtocolError{Reason: "missing header: " + err.Error()}
	}
	sigScope, err := resp.One("AuthSignature")
	if err != nil {
		return &ProtocolError{Reason: "missing AuthSignature: " + err.Error()}
	}
	sig, err := xmlcodec.B64Decode(sigScope.Text())
	if err != nil {
		return &ProtocolError{Reason: "decode AuthSignature: " + err.Error()}
	}
	subtree, err := xmlcodec.Canonical(header.Element())
	if err != nil {
		return fmt.Errorf("transport: canonicalize response auth subtree: %w", err)
	}
	if err := ebicscrypto.VerifyX002(bankAuthPub, subtree, sig); err != nil {
		return &ProtocolError{Reason: "X002 signature verification failed: " + err.Error()}
	}
	return nil
}

// returnCodes is the (technical, bank-technical) pair every EBICS
// response envelope carries.
type returnCodes struct {
	Technical     string
	BankTechnical string
}

// parseReturnCodes reads the two ReturnCode elements out of a response
// envelope's header/mutable and body blocks.
func parseReturnCodes(root *xmlcodec.Scope) (returnCodes, error) {
	header, err := root.One("header")
	if err != nil {
		return returnCodes{}, &ProtocolError{Reason: "missing header: " + err.Error()}
	}
	mutable, err := header.One("mutable")
	if err != nil {
		return returnCodes{}, &ProtocolError{Reason: "missing header/mutable: " + err.Error()}
	}
	bankTechnical, err := mutable.One("ReturnCode")
	if err != nil {
		return returnCodes{}, &ProtocolError{Reason: "missing header/mutable/ReturnCode: " + err.Error()}
	}

	body, err := root.One("body")
	if err != nil {
		return returnCodes{}, &ProtocolError{Reason: "missing body: " + err.Error()}
	}
	technical, err := body.One("ReturnCode")
	if err != nil {
		return returnCodes{}, &ProtocolError{Reason: "missing body/ReturnCode: " + err.Error()}
	}

	return returnCodes{Technical: technical.Text(), BankTechnical: bankTechnical.Text()}, nil
}

// checkReturnCodes classifies both codes and returns the first Error-
// severity failure found, preferring the technical code (spec.md §4.F
// Common: "any Error-class code aborts the state machine").
func checkReturnCodes(codes returnCodes) error {
	technical, err := classify(codes.Technical)
	if err != nil {
		return err
	}
	if technical.Severity == retcode.Error {
		return &EbicsTechnicalError{Code: technical}
	}

	bankTechnical, err := classify(codes.BankTechnical)
	if err != nil {
		return err
	}
	if bankTechnical.Severity == retcode.Error {
		return &BankTechnicalError{Code: bankTechnical}
	}
	return nil
}

func classify(value string) (retcode.Code, error) {
	if c, err := retcode.Lookup(value); err == nil {
		return c, nil
	}
	return retcode.Code{Value: value, Description: "unregistered code", Severity: retcode.ClassifyDigits(value)}, nil
}
