package isomsg

// Credit/debit indicator values as they appear in Entry.CdtDbtInd.
const (
	CdtDbtCredit = "CRDT"
	CdtDbtDebit  = "DBIT"
)

// BookedEntries filters a Statement's entries down to the booked
// ("BOOK") ones, discarding pending entries the reconciliation loop must
// not act on yet (spec.md §4.I: only booked entries are ever ingested).
func (s Statement) BookedEntries() []Entry {
	var out []Entry
	for _, e := range s.Ntry {
		if e.Sts.Cd == "BOOK" {
			out = append(out, e)
		}
	}
	return out
}

// IsCredit reports whether the entry is a credit (incoming) movement.
func (e Entry) IsCredit() bool {
	return e.CdtDbtInd == CdtDbtCredit
}

// Subject returns the first unstructured remittance line across the
// entry's transaction details, which is where the Taler wire-gateway
// protocol's reserve public key or withdrawal operation id travels.
func (e Entry) Subject() string {
	for _, d := range e.NtryDtls {
		for _, tx := range d.TxDtls {
			for _, u := range tx.RmtInf.Ustrd {
				if u != "" {
					return u
				}
			}
		}
	}
	return ""
}

// CounterpartyIBAN returns the debtor IBAN for a credit entry (the payer
// to refund on a bounce) or the creditor IBAN for a debit entry.
func (e Entry) CounterpartyIBAN() string {
	for _, d := range e.NtryDtls {
		for _, tx := range d.TxDtls {
			if e.IsCredit() {
				if tx.RltdPties.DbtrAcct.IBAN != "" {
					return tx.RltdPties.DbtrAcct.IBAN
				}
			} else if tx.RltdPties.CdtrAcct.IBAN != "" {
				return tx.RltdPties.CdtrAcct.IBAN
			}
		}
	}
	return ""
}

// MessageIdentification returns the bank-echoed end-to-end id for the
// entry's first transaction detail, the value a gateway's own submission
// stamped into PmtId.EndToEndId. Distinct from Subject, which reads the
// unstructured remittance line instead (spec.md §4.G linking requires the
// former, not the latter).
func (e Entry) MessageIdentification() string {
	for _, d := range e.NtryDtls {
		for _, tx := range d.TxDtls {
			if tx.Refs.EndToEndId != "" {
				return tx.Refs.EndToEndId
			}
		}
	}
	return ""
}

// BankReference returns the bank's own reference (AcctSvcrRef) for the
// entry, taken from the entry itself or else from its first transaction
// detail that carries one, used as the
// dedup key store operations key off (spec.md §4.G, §8 dedup-by-bank-
// identifier invariant).
func (e Entry) BankReference() string {
	if e.AcctSvcrRef != "" {
		return e.AcctSvcrRef
	}
	for _, d := range e.NtryDtls {
		for _, tx := range d.TxDtls {
			if tx.Refs.AcctSvcrRef != "" {
				return tx.Refs.AcctSvcrRef
			}
		}
	}
	return ""
}
