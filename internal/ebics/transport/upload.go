package transport

import (
	"bytes"
	"context"
	"fmt"

	"github.com/paynet/nexus/internal/ebics/catalog"
	"github.com/paynet/nexus/internal/ebicscrypto"
	"github.com/paynet/nexus/internal/xmlcodec"
)

const uploadSegmentSize = 1 << 20 // 1 MB, per spec.md §4.F Upload step 1.

// UploadOutcome is the terminal state an Upload call reaches, per
// spec.md §4.F's `Done|Failed`.
type UploadOutcome int

const (
	UploadDone UploadOutcome = iota
	UploadFailed
)

// UploadResult carries the bank-assigned order id for a Done upload.
type UploadResult struct {
	Outcome UploadOutcome
	OrderID string
}

// Upload runs the full init/transfer state machine for one pain.001
// payload against one subscriber (spec.md §4.F Upload). Like Download,
// it runs inside a non-cancellable region; an upload has no receipt
// phase to defer to, so cancellation observed mid-transfer simply
// abandons the open transaction and surfaces an error — the bank expires
// it on its own timeout.
func Upload(ctx context.Context, client *Client, id SubscriberIdentity, keys KeyMaterial, order catalog.Order, payload []byte) (UploadResult, error) {
	signature, err := ebicscrypto.SignA006(keys.ClientSignature, payload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: sign order data: %w", err)
	}

	signatureXML := buildUserSignatureData(signature)
	sessionKey, err := ebicscrypto.GenerateSessionKey()
	if err != nil {
		return UploadResult{}, err
	}

	deflatedSignature, err := xmlcodec.Deflate(signatureXML)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: deflate signature data: %w", err)
	}
	encryptedSignature, err := ebicscrypto.EncryptE002(sessionKey, deflatedSignature)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: encrypt signature data: %w", err)
	}

	deflatedPayload, err := xmlcodec.Deflate(payload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: deflate payload: %w", err)
	}
	encryptedPayload, err := ebicscrypto.EncryptE002(sessionKey, deflatedPayload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: encrypt payload: %w", err)
	}

	wrappedKey, err := ebicscrypto.WrapSessionKey(keys.BankEncryption, sessionKey)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: wrap session key: %w", err)
	}

	segments := splitSegments(xmlcodec.B64Encode(encryptedPayload), uploadSegmentSize)

	txNonce, err := nonce()
	if err != nil {
		return UploadResult{}, err
	}

	dataDigest := ebicscrypto.OrderDataDigest(payload)
	initReq, err := buildUploadInit(id, keys, order, txNonce, wrappedKey, encryptedSignature, dataDigest, len(segments))
	if err != nil {
		return UploadResult{}, err
	}
	reqBytes, err := xmlcodec.Marshal(initReq)
	if err != nil {
		return UploadResult{}, fmt.Errorf("transport: marshal upload init: %w", err)
	}
	respBytes, err := client.Post(detach(ctx), reqBytes)
	if err != nil {
		return UploadResult{}, err
	}
	resp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
	if err != nil {
		return UploadResult{}, &ProtocolError{Reason: "parse upload init response: " + err.Error()}
	}
	if err := verifyAuthSignature(resp, keys.BankAuth); err != nil {
		return UploadResult{}, err
	}
	codes, err := parseReturnCodes(resp)
	if err != nil {
		return UploadResult{}, err
	}
	if err := checkReturnCodes(codes); err != nil {
		return UploadResult{}, err
	}
	mutable, err := mustMutable(resp)
	if err != nil {
		return UploadResult{}, err
	}
	transactionID, _ := mutable.Attr("TransactionID")

	var orderID string
	for i, segment := range segments {
		select {
		case <-ctx.Done():
			return UploadResult{}, &ErrCancelled{Stage: "transfer"}
		default:
		}

		last := i == len(segments)-1
		transferReq, err := buildUploadTransfer(keys, transactionID, i+1, last, segment)
		if err != nil {
			return UploadResult{}, err
		}
		reqBytes, err := xmlcodec.Marshal(transferReq)
		if err != nil {
			return UploadResult{}, fmt.Errorf("transport: marshal upload transfer: %w", err)
		}
		respBytes, err := client.Post(detach(ctx), reqBytes)
		if err != nil {
			return UploadResult{}, err
		}
		segResp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
		if err != nil {
			return UploadResult{}, &ProtocolError{Reason: "parse upload transfer response: " + err.Error()}
		}
		if err := verifyAuthSignature(segResp, keys.BankAuth); err != nil {
			return UploadResult{}, err
		}
		segCodes, err := parseReturnCodes(segResp)
		if err != nil {
			return UploadResult{}, err
		}
		if err := checkReturnCodes(segCodes); err != nil {
			return UploadResult{}, err
		}
		if last {
			segMutable, err := mustMutable(segResp)
			if err != nil {
				return UploadResult{}, err
			}
			if v, ok := segMutable.Attr("OrderID"); ok {
				orderID = v
			}
		}
	}

	return UploadResult{Outcome: UploadDone, OrderID: orderID}, nil
}

func buildUserSignatureData(signature []byte) []byte {
	root := xmlcodec.NewElement("UserSignatureData").Xmlns("", "http://www.ebics.org/S001")
	sig := root.Child("OrderSignatureData")
	sig.Child("SignatureVersion").SetText("A006")
	sig.Child("SignatureValue").SetBase64(signature)
	out, _ := xmlcodec.Marshal(root)
	return out
}

func splitSegments(b64 string, size int) []string {
	var segments []string
	for i := 0; i < len(b64); i += size {
		end := i + size
		if end > len(b64) {
			end = len(b64)
		}
		segments = append(segments, b64[i:end])
	}
	if len(segments) == 0 {
		segments = append(segments, "")
	}
	return segments
}

func buildUploadInit(id SubscriberIdentity, keys KeyMaterial, order catalog.Order, txNonce string, wrappedKey, encryptedSignature []byte, dataDigest [32]byte, numSegments int) (*xmlcodec.Element, error) {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", ebicsVersion(order)).Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "true")
	static := buildStaticHeader(header, id, txNonce)
	buildOrderDetails(static, order, DateRange{})
	static.Child("NumSegments").SetText(fmt.Sprintf("%d", numSegments))
	static.Child("DataDigest").Attr("SignatureVersion", "A006").SetBase64(dataDigest[:])
	bankPubKeyDigests(static, keys)

	mutable := header.Child("mutable")
	mutable.Child("TransactionPhase").SetText("Initialisation")

	body := root.Child("body")
	dataTransfer := body.Child("DataTransfer")
	encInfo := dataTransfer.Child("DataEncryptionInfo").Attr("authenticate", "true")
	encInfo.Child("EncryptionPubKeyDigest").Attr("Version", "E002").SetBase64(keys.BankEncryptionDigest[:])
	encInfo.Child("TransactionKey").SetBase64(wrappedKey)
	dataTransfer.Child("SignatureData").Attr("authenticate", "true").SetBase64(encryptedSignature)
	if err := attachAuthSignature(root, header, keys.ClientAuth); err != nil {
		return nil, err
	}
	return root, nil
}

func buildUploadTransfer(keys KeyMaterial, transactionID string, segment int, last bool, b64Chunk string) (*xmlcodec.Element, error) {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", "H004").Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "true")
	header.Child("static")
	mutable := header.Child("mutable")
	mutable.Attr("TransactionID", transactionID)
	mutable.Child("TransactionPhase").SetText("Transfer")
	mutable.Child("SegmentNumber").Attr("lastSegment", boolStr(last)).SetText(fmt.Sprintf("%d", segment))

	body := root.Child("body")
	body.Child("DataTransfer").Child("OrderData").SetText(b64Chunk)
	if err := attachAuthSignature(root, header, keys.ClientAuth); err != nil {
		return nil, err
	}
	return root, nil
}
