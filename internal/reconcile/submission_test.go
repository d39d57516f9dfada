package reconcile

import (
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus/internal/isomsg"
	"github.com/paynet/nexus/internal/nexusconfig"
	"github.com/paynet/nexus/internal/store"
)

func TestBuildPain001RoundTrip(t *testing.T) {
	account := nexusconfig.Account{IBAN: "CH9300762011623852957", BIC: "POFICHBEXXX", Name: "Example Gateway"}
	payment := store.InitiatedPayment{
		RequestUID:   "req-123",
		Amount:       store.Amount{Currency: "CHF", Val: 42, Frac: 50_000_000},
		Subject:      "invoice 99",
		CreditorIBAN: "CH5604835012345678009",
		CreditorName: "Jane Creditor",
	}

	data, err := buildPain001(account, payment)
	require.NoError(t, err)

	var doc isomsg.Pain001Document
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Equal(t, "req-123", doc.CstmrCdtTrfInitn.GrpHdr.MsgId)
	require.Equal(t, "CHF", doc.CstmrCdtTrfInitn.PmtInf.CdtTrfTxInf.Amt.InstdAmt.Ccy)
	require.Equal(t, "42.50", doc.CstmrCdtTrfInitn.PmtInf.CdtTrfTxInf.Amt.InstdAmt.Value)
	require.Equal(t, "CH5604835012345678009", doc.CstmrCdtTrfInitn.PmtInf.CdtTrfTxInf.CdtrAcct.IBAN)
}

func TestParseAmountRoundTripsThroughFormat(t *testing.T) {
	amount := store.Amount{Currency: "EUR", Val: 7, Frac: 25_000_000}
	formatted := formatAmount(amount)
	require.Equal(t, "7.25", formatted)

	parsed, err := parseAmount(isomsg.Amount{Ccy: "EUR", Value: formatted})
	require.NoError(t, err)
	require.Equal(t, amount, parsed)
}

func TestDialectVersionSelectsH005ForGLS(t *testing.T) {
	require.Equal(t, 1, int(dialectVersion(nexusconfig.DialectGLS)))
	require.Equal(t, 0, int(dialectVersion(nexusconfig.DialectPostfinance)))
}
