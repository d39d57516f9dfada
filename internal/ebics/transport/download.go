package transport

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/paynet/nexus/internal/ebics/catalog"
	"github.com/paynet/nexus/internal/ebicscrypto"
	"github.com/paynet/nexus/internal/xmlcodec"
)

// DateRange bounds a download request to [Start, End], per spec.md §4.I's
// time-window contract. A zero DateRange requests whatever the bank
// considers current, with no explicit range.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r DateRange) isZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// DownloadOutcome is the terminal state a Download call reaches, per
// spec.md §4.F's `Done|Empty|Failed`.
type DownloadOutcome int

const (
	DownloadDone DownloadOutcome = iota
	DownloadEmpty
	DownloadFailed
)

// DownloadResult carries the inflated document bytes for a Done
// download, or nothing for Empty/Failed.
type DownloadResult struct {
	Outcome DownloadOutcome
	Payload []byte
}

// Download runs the full init/transfer/receipt state machine for one
// order against one subscriber (spec.md §4.F Download). It runs inside
// a non-cancellable region: cancellation of ctx observed between network
// round trips is honoured only after a failure receipt has been sent for
// any transaction opened on the bank side, so the bank never holds a
// stuck transaction slot.
func Download(ctx context.Context, client *Client, id SubscriberIdentity, keys KeyMaterial, order catalog.Order, window DateRange) (DownloadResult, error) {
	txNonce, err := nonce()
	if err != nil {
		return DownloadResult{}, err
	}

	initReq, err := buildDownloadInit(id, keys, order, txNonce, window)
	if err != nil {
		return DownloadResult{}, err
	}
	reqBytes, err := xmlcodec.Marshal(initReq)
	if err != nil {
		return DownloadResult{}, fmt.Errorf("transport: marshal download init: %w", err)
	}

	respBytes, err := client.Post(detach(ctx), reqBytes)
	if err != nil {
		return DownloadResult{}, err
	}
	resp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
	if err != nil {
		return DownloadResult{}, &ProtocolError{Reason: "parse download init response: " + err.Error()}
	}
	if err := verifyAuthSignature(resp, keys.BankAuth); err != nil {
		return DownloadResult{}, err
	}

	codes, err := parseReturnCodes(resp)
	if err != nil {
		return DownloadResult{}, err
	}
	if codes.BankTechnical == "090005" {
		return DownloadResult{Outcome: DownloadEmpty}, nil
	}
	if err := checkReturnCodes(codes); err != nil {
		return DownloadResult{}, err
	}

	body, err := resp.One("body")
	if err != nil {
		return DownloadResult{}, &ProtocolError{Reason: err.Error()}
	}
	dataTransfer, err := body.One("DataTransfer")
	if err != nil {
		return DownloadResult{}, &ProtocolError{Reason: "missing DataTransfer: " + err.Error()}
	}

	mutable, err := mustMutable(resp)
	if err != nil {
		return DownloadResult{}, err
	}
	transactionID, _ := mutable.Attr("TransactionID")
	if transactionID == "" {
		if tidScope, err := mutable.Opt("TransactionID"); err == nil && tidScope != nil {
			transactionID = tidScope.Text()
		}
	}
	numSegments, err := readIntChild(mutable, "NumSegments", 1)
	if err != nil {
		return DownloadResult{}, err
	}

	chunks, sessionKey, err := firstChunkAndSessionKey(dataTransfer, keys)
	if err != nil {
		// The transaction is open on the bank side; send a failure
		// receipt before surfacing the error.
		sendReceipt(detach(ctx), client, id, keys, transactionID, false)
		return DownloadResult{}, err
	}

	for segment := 2; segment <= numSegments; segment++ {
		select {
		case <-ctx.Done():
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, &ErrCancelled{Stage: "transfer"}
		default:
		}

		transferReq, err := buildDownloadTransfer(id, keys, transactionID, segment, segment == numSegments)
		if err != nil {
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, err
		}
		reqBytes, err := xmlcodec.Marshal(transferReq)
		if err != nil {
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, fmt.Errorf("transport: marshal download transfer: %w", err)
		}
		respBytes, err := client.Post(detach(ctx), reqBytes)
		if err != nil {
			return DownloadResult{}, err
		}
		segResp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
		if err != nil {
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, &ProtocolError{Reason: "parse download transfer response: " + err.Error()}
		}
		if err := verifyAuthSignature(segResp, keys.BankAuth); err != nil {
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, err
		}
		segCodes, err := parseReturnCodes(segResp)
		if err != nil {
			return DownloadResult{}, err
		}
		if err := checkReturnCodes(segCodes); err != nil {
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, err
		}
		chunk, err := orderDataChunk(segResp)
		if err != nil {
			sendReceipt(detach(ctx), client, id, keys, transactionID, false)
			return DownloadResult{}, err
		}
		chunks = append(chunks, chunk...)
	}

	plaintext, err := decodePayload(chunks, sessionKey)
	if err != nil {
		sendReceipt(detach(ctx), client, id, keys, transactionID, false)
		return DownloadResult{}, err
	}

	if err := sendReceipt(detach(ctx), client, id, keys, transactionID, true); err != nil {
		return DownloadResult{}, err
	}

	select {
	case <-ctx.Done():
		return DownloadResult{}, &ErrCancelled{Stage: "after receipt"}
	default:
	}

	return DownloadResult{Outcome: DownloadDone, Payload: plaintext}, nil
}

func decodePayload(ciphertext []byte, sessionKey []byte) ([]byte, error) {
	deflated, err := ebicscrypto.DecryptE002(sessionKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("transport: decrypt download payload: %w", err)
	}
	plaintext, err := xmlcodec.Inflate(deflated)
	if err != nil {
		return nil, fmt.Errorf("transport: inflate download payload: %w", err)
	}
	return plaintext, nil
}

func firstChunkAndSessionKey(dataTransfer *xmlcodec.Scope, keys KeyMaterial) ([]byte, []byte, error) {
	encInfo, err := dataTransfer.One("DataEncryptionInfo")
	if err != nil {
		return nil, nil, &ProtocolError{Reason: "missing DataEncryptionInfo: " + err.Error()}
	}
	keyScope, err := encInfo.One("TransactionKey")
	if err != nil {
		return nil, nil, &ProtocolError{Reason: "missing TransactionKey: " + err.Error()}
	}
	wrapped, err := xmlcodec.B64Decode(keyScope.Text())
	if err != nil {
		return nil, nil, &ProtocolError{Reason: "decode TransactionKey: " + err.Error()}
	}
	sessionKey, err := ebicscrypto.UnwrapSessionKey(keys.ClientEncryption, wrapped)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: unwrap session key: %w", err)
	}

	// OrderData lives as a sibling of DataEncryptionInfo under DataTransfer.
	odScope, err := dataTransfer.One("OrderData")
	if err != nil {
		return nil, nil, &ProtocolError{Reason: "missing OrderData: " + err.Error()}
	}
	data, err := xmlcodec.B64Decode(odScope.Text())
	if err != nil {
		return nil, nil, &ProtocolError{Reason: "decode OrderData: " + err.Error()}
	}
	return data, sessionKey, nil
}

func orderDataChunk(resp *xmlcodec.Scope) ([]byte, error) {
	body, err := resp.One("body")
	if err != nil {
		return nil, &ProtocolError{Reason: "missing body: " + err.Error()}
	}
	dataTransfer, err := body.One("DataTransfer")
	if err != nil {
		return nil, &ProtocolError{Reason: "missing DataTransfer: " + err.Error()}
	}
	odScope, err := dataTransfer.One("OrderData")
	if err != nil {
		return nil, &ProtocolError{Reason: "missing OrderData: " + err.Error()}
	}
	return xmlcodec.B64Decode(odScope.Text())
}

func mustMutable(resp *xmlcodec.Scope) (*xmlcodec.Scope, error) {
	header, err := resp.One("header")
	if err != nil {
		return nil, &ProtocolError{Reason: err.Error()}
	}
	mutable, err := header.One("mutable")
	if err != nil {
		return nil, &ProtocolError{Reason: err.Error()}
	}
	return mutable, nil
}

func readIntChild(scope *xmlcodec.Scope, name string, fallback int) (int, error) {
	child, err := scope.Opt(name)
	if err != nil {
		return 0, &ProtocolError{Reason: err.Error()}
	}
	if child == nil {
		return fallback, nil
	}
	var n int
	if _, err := fmt.Sscanf(child.Text(), "%d", &n); err != nil {
		return 0, &ProtocolError{Reason: fmt.Sprintf("parse %s: %v", name, err)}
	}
	return n, nil
}

func buildDownloadInit(id SubscriberIdentity, keys KeyMaterial, order catalog.Order, txNonce string, window DateRange) (*xmlcodec.Element, error) {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", ebicsVersion(order)).Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "true")
	static := buildStaticHeader(header, id, txNonce)
	buildOrderDetails(static, order, window)
	bankPubKeyDigests(static, keys)

	mutable := header.Child("mutable")
	mutable.Child("TransactionPhase").SetText("Initialisation")

	root.Child("body")
	if err := attachAuthSignature(root, header, keys.ClientAuth); err != nil {
		return nil, err
	}
	return root, nil
}

func buildDownloadTransfer(id SubscriberIdentity, keys KeyMaterial, transactionID string, segment int, last bool) (*xmlcodec.Element, error) {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", "H004").Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "true")
	header.Child("static")
	mutable := header.Child("mutable")
	mutable.Child("TransactionPhase").SetText("Transfer")
	mutable.Child("SegmentNumber").Attr("lastSegment", boolStr(last)).SetText(fmt.Sprintf("%d", segment))
	mutable.Attr("TransactionID", transactionID)
	root.Child("body")
	if err := attachAuthSignature(root, header, keys.ClientAuth); err != nil {
		return nil, err
	}
	return root, nil
}

func sendReceipt(ctx context.Context, client *Client, id SubscriberIdentity, keys KeyMaterial, transactionID string, success bool) error {
	root := xmlcodec.NewElement("ebicsRequest").Attr("Version", "H004").Attr("Revision", "1")
	header := root.Child("header").Attr("authenticate", "true")
	header.Child("static")
	mutable := header.Child("mutable")
	mutable.Child("TransactionPhase").SetText("Receipt")
	mutable.Attr("TransactionID", transactionID)
	body := root.Child("body")
	code := "1"
	if success {
		code = "0"
	}
	body.Child("TransferReceipt").Attr("authenticate", "true").Child("ReceiptCode").SetText(code)
	if err := attachAuthSignature(root, header, keys.ClientAuth); err != nil {
		return err
	}

	reqBytes, err := xmlcodec.Marshal(root)
	if err != nil {
		return fmt.Errorf("transport: marshal receipt: %w", err)
	}
	respBytes, err := client.Post(ctx, reqBytes)
	if err != nil {
		return err
	}
	resp, err := xmlcodec.Parse(bytes.NewReader(respBytes))
	if err != nil {
		return &ProtocolError{Reason: "parse receipt response: " + err.Error()}
	}
	if err := verifyAuthSignature(resp, keys.BankAuth); err != nil {
		return err
	}
	codes, err := parseReturnCodes(resp)
	if err != nil {
		return err
	}
	return checkReturnCodes(codes)
}

func buildOrderDetails(static *xmlcodec.Element, order catalog.Order, window DateRange) {
	switch order.Version {
	case catalog.H004:
		od := static.Child("OrderDetails")
		od.Child("OrderType").SetText(order.H004.Type)
		od.Child("OrderAttribute").SetText(order.H004.Attribute)
		addDateRange(od, window)
	case catalog.H005:
		od := static.Child("OrderDetails")
		service := od.Child("Service")
		service.Child("ServiceName").SetText(order.H005.Service)
		if order.H005.ScopeOrName != "" {
			service.Child("Scope").SetText(order.H005.ScopeOrName)
		}
		if order.H005.Option != "" {
			service.Child("ServiceOption").SetText(order.H005.Option)
		}
		msg := service.Child("MsgName")
		msg.Attr("version", order.H005.MessageVersion).SetText(order.H005.MessageName)
		if order.H005.Container != "" {
			service.Child("Container").Attr("containerType", order.H005.Container)
		}
		addDateRange(od, window)
	}
}

func addDateRange(orderDetails *xmlcodec.Element, window DateRange) {
	if window.isZero() {
		return
	}
	dr := orderDetails.Child("DateRange")
	dr.Child("Start").SetText(window.Start.UTC().Format("2006-01-02"))
	dr.Child("End").SetText(window.End.UTC().Format("2006-01-02"))
}

func ebicsVersion(order catalog.Order) string {
	if order.Version == catalog.H005 {
		return "H005"
	}
	return "H004"
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// detach returns a context carrying no deadline/cancellation from ctx,
// used for the individual network calls within a state machine's
// non-cancellable region; the state machine itself still polls ctx.Done()
// between round trips to decide when to start its cleanup-then-abort path
// (spec.md §4.F Cancellation, §5).
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
