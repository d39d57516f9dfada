package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus/internal/isomsg"
	"github.com/paynet/nexus/internal/store"
)

func TestExtractReservePubRoundTrip(t *testing.T) {
	var want [32]byte
	for i := range want {
		want[i] = byte(i)
	}
	token := crockfordEncoding.EncodeToString(want[:])

	got, ok := ExtractReservePub("Reserve top-up " + token)
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestExtractReservePubAbsent(t *testing.T) {
	_, ok := ExtractReservePub("rent for march, thanks!")
	require.False(t, ok)
}

func TestClassifyIncomingTalerableWhenUnseen(t *testing.T) {
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i)
	}
	token := crockfordEncoding.EncodeToString(pub[:])

	entry := isomsg.Entry{
		CdtDbtInd: isomsg.CdtDbtCredit,
		NtryDtls: []isomsg.EntryDetail{{
			TxDtls: []isomsg.TransactionDetail{{
				RmtInf: struct {
					Ustrd []string `xml:"Ustrd,omitempty"`
				}{Ustrd: []string{token}},
			}},
		}},
	}

	class, gotPub, err := ClassifyIncoming(entry, func([32]byte) (bool, error) { return false, nil })
	require.NoError(t, err)
	require.Equal(t, ClassTalerable, class)
	require.Equal(t, pub, gotPub)
}

func TestClassifyIncomingBounceableWhenSeenOrMissingToken(t *testing.T) {
	entry := isomsg.Entry{CdtDbtInd: isomsg.CdtDbtCredit}
	class, _, err := ClassifyIncoming(entry, func([32]byte) (bool, error) { return false, nil })
	require.NoError(t, err)
	require.Equal(t, ClassBounceable, class)

	var pub [32]byte
	token := crockfordEncoding.EncodeToString(pub[:])
	seenEntry := isomsg.Entry{
		CdtDbtInd: isomsg.CdtDbtCredit,
		NtryDtls: []isomsg.EntryDetail{{
			TxDtls: []isomsg.TransactionDetail{{
				RmtInf: struct {
					Ustrd []string `xml:"Ustrd,omitempty"`
				}{Ustrd: []string{token}},
			}},
		}},
	}
	class, _, err = ClassifyIncoming(seenEntry, func([32]byte) (bool, error) { return true, nil })
	require.NoError(t, err)
	require.Equal(t, ClassBounceable, class)
}

func TestBounceAmountFloorsAtZero(t *testing.T) {
	received := store.Amount{Currency: "EUR", Val: 1, Frac: 0}
	got := BounceAmount(received, 200) // fee: 2.00 EUR >= received 1.00 EUR
	require.True(t, got.IsZero())
}

func TestBounceAmountSubtractsFee(t *testing.T) {
	received := store.Amount{Currency: "EUR", Val: 10, Frac: 0}
	got := BounceAmount(received, 150) // fee: 1.50 EUR
	require.Equal(t, "EUR", got.Currency)
	require.Equal(t, int64(8), got.Val)
	require.Equal(t, int32(50_000_000), got.Frac)
}
