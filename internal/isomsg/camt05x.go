package isomsg

import "encoding/xml"

// CamtDocument is the shared root shape of camt.052 (account report),
// camt.053 (account statement), and camt.054 (notification), which this
// gateway treats identically at the struct level since all three carry a
// bank-to-customer statement body distinguished only by XML namespace.
type CamtDocument struct {
	XMLName xml.Name `xml:"Document"`
	Xmlns   string   `xml:"xmlns,attr"`
	Stmt    []Statement `xml:"BkToCstmrStmt>Stmt"`
	Rpt     []Statement `xml:"BkToCstmrAcctRpt>Rpt"`
	Ntfctn  []Statement `xml:"BkToCstmrDbtCdtNtfctn>Ntfctn"`
}

// Statement is one statement/report/notification entry block: an account
// identifier, the reporting period boundaries, and the list of booked or
// pending entries this gateway classifies and stores.
type Statement struct {
	Id        string  `xml:"Id"`
	ElctrncSeqNb string `xml:"ElctrncSeqNb,omitempty"`
	CreDtTm   string  `xml:"CreDtTm"`
	Acct      Account `xml:"Acct"`
	Bal       []Balance `xml:"Bal,omitempty"`
	Ntry      []Entry `xml:"Ntry"`
}

// Balance is an opening, closing, or interim balance entry.
type Balance struct {
	Tp  BalanceType `xml:"Tp"`
	Amt Amount      `xml:"Amt"`
	CdtDbtInd string `xml:"CdtDbtInd"`
	Dt  struct {
		Dt string `xml:"Dt,omitempty"`
	} `xml:"Dt"`
}

// BalanceType identifies what a Balance represents (opening booked,
// closing booked, etc.) via its proprietary or ISO code.
type BalanceType struct {
	CdOrPrtry struct {
		Cd string `xml:"Cd,omitempty"`
	} `xml:"CdOrPrtry"`
}

// Entry is a single booked or pending movement on the account. CdtDbtInd
// is "CRDT" or "DBIT"; this gateway uses it together with Sts to classify
// the movement as a talerable incoming payment, an outgoing confirmation,
// or a bounce, per spec.md §4.I.
type Entry struct {
	Amt         Amount       `xml:"Amt"`
	CdtDbtInd   string       `xml:"CdtDbtInd"`
	Sts         EntryStatus  `xml:"Sts"`
	BookgDt     DateOrDateTime `xml:"BookgDt,omitempty"`
	ValDt       DateOrDateTime `xml:"ValDt,omitempty"`
	AcctSvcrRef string       `xml:"AcctSvcrRef,omitempty"`
	NtryDtls    []EntryDetail `xml:"NtryDtls,omitempty"`
}

// EntryStatus is "BOOK" (booked) or "PDNG" (pending); only BOOK entries
// are reconciled into the store.
type EntryStatus struct {
	Cd string `xml:"Cd"`
}

// DateOrDateTime models the ISO 20022 choice between a plain date and a
// full date-time, both of which appear in the wild across camt producers.
type DateOrDateTime struct {
	Dt    string `xml:"Dt,omitempty"`
	DtTm  string `xml:"DtTm,omitempty"`
}

// EntryDetail carries the per-transaction remittance and counterparty
// information nested under an Entry.
type EntryDetail struct {
	TxDtls []TransactionDetail `xml:"TxDtls"`
}

// TransactionDetail is the innermost camt block this gateway reads to
// classify an incoming payment: the counterparty, the end-to-end id (read
// by Entry.MessageIdentification to link an outgoing booking to the
// initiated payment whose request UID it echoes), and the unstructured
// remittance subject the Taler wire-gateway protocol requires.
type TransactionDetail struct {
	Refs struct {
		EndToEndId string `xml:"EndToEndId,omitempty"`
		AcctSvcrRef string `xml:"AcctSvcrRef,omitempty"`
	} `xml:"Refs,omitempty"`
	RltdPties struct {
		Dbtr   Party   `xml:"Dbtr>Pty,omitempty"`
		DbtrAcct Account `xml:"DbtrAcct,omitempty"`
		Cdtr   Party   `xml:"Cdtr>Pty,omitempty"`
		CdtrAcct Account `xml:"CdtrAcct,omitempty"`
	} `xml:"RltdPties,omitempty"`
	RmtInf struct {
		Ustrd []string `xml:"Ustrd,omitempty"`
	} `xml:"RmtInf,omitempty"`
}
