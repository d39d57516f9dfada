package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paynet/nexus/internal/isomsg"
)

func camtFixture(entryStatus string) []byte {
	doc := isomsg.CamtDocument{
		Xmlns: "urn:iso:std:iso:20022:tech:xsd:camt.053.001.08",
		Stmt: []isomsg.Statement{{
			Id: "STMT-1",
			Ntry: []isomsg.Entry{
				{
					Amt:         isomsg.Amount{Ccy: "CHF", Value: "12.50"},
					CdtDbtInd:   isomsg.CdtDbtCredit,
					Sts:         isomsg.EntryStatus{Cd: entryStatus},
					AcctSvcrRef: "BANKREF-1",
				},
			},
		}},
	}
	data, err := xml.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

func TestBookedEntriesFiltersOutPending(t *testing.T) {
	entries, err := bookedEntries(camtFixture("BOOK"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "BANKREF-1", entries[0].BankReference())

	entries, err = bookedEntries(camtFixture("PDNG"))
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBookedEntriesFlattensStatementsReportsAndNotifications(t *testing.T) {
	entry := isomsg.Entry{
		Amt:       isomsg.Amount{Ccy: "EUR", Value: "1.00"},
		CdtDbtInd: isomsg.CdtDbtDebit,
		Sts:       isomsg.EntryStatus{Cd: "BOOK"},
	}
	doc := isomsg.CamtDocument{
		Stmt:   []isomsg.Statement{{Ntry: []isomsg.Entry{entry}}},
		Rpt:    []isomsg.Statement{{Ntry: []isomsg.Entry{entry}}},
		Ntfctn: []isomsg.Statement{{Ntry: []isomsg.Entry{entry}}},
	}
	data, err := xml.Marshal(doc)
	require.NoError(t, err)

	entries, err := bookedEntries(data)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestBookedEntriesRejectsMalformedXML(t *testing.T) {
	_, err := bookedEntries([]byte("not xml"))
	require.Error(t, err)
}

// buildZip wraps a single member's bytes into an in-memory ZIP archive,
// the container format every H005 BTD order uses (spec.md §4.I step 3).
func buildZip(t *testing.T, name string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(name)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestBuildZipRoundTripsIntoBookedEntries(t *testing.T) {
	archive := buildZip(t, "camt053.xml", camtFixture("BOOK"))

	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)
	require.Len(t, reader.File, 1)

	f, err := reader.File[0].Open()
	require.NoError(t, err)
	defer f.Close()

	var data bytes.Buffer
	_, err = data.ReadFrom(f)
	require.NoError(t, err)

	entries, err := bookedEntries(data.Bytes())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
