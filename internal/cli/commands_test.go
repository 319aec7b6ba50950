package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karasz/notary"
)

func TestUpdateThenInspect(t *testing.T) {
	e := newTestEnv(t)
	sub := subject(1).String()

	code, resp, stderr := e.run(t, "update", sub, "--gini", "4250", "--hhi", "1200", "--status", "1")
	require.Equal(t, ExitSuccess, code, stderr)
	var rcpt ReceiptResult
	data(t, resp, &rcpt)
	assert.True(t, rcpt.Created)
	assert.False(t, rcpt.Spooled)
	assert.Equal(t, uint16(4250), rcpt.Record.GiniScore)

	code, resp, _ = e.run(t, "update", sub, "--gini", "5000", "--status", "3")
	require.Equal(t, ExitSuccess, code)
	data(t, resp, &rcpt)
	assert.False(t, rcpt.Created)

	code, resp, _ = e.run(t, "inspect", sub)
	require.Equal(t, ExitSuccess, code)
	var rec RecordResult
	data(t, resp, &rec)
	assert.Equal(t, rcpt.Address, rec.Address)
	assert.Equal(t, uint16(5000), rec.Record.GiniScore)
	assert.Equal(t, uint16(0), rec.Record.HHIScore)
	assert.Equal(t, uint8(notary.StatusSybil), rec.Record.Status)

	code, resp, _ = e.run(t, "update", subject(2).String(), "--status", "2")
	require.Equal(t, ExitSuccess, code)

	code, resp, _ = e.run(t, "inspect", "--all")
	require.Equal(t, ExitSuccess, code)
	var list RecordList
	data(t, resp, &list)
	assert.Len(t, list, 2)

	code, resp, _ = e.run(t, "inspect", subject(9).String())
	assert.Equal(t, ExitRejected, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "record_not_found", resp.Error.Code)
}

func TestUpdate_RejectedByNotary(t *testing.T) {
	e := newTestEnv(t)
	// The store belongs to a different authority than NOTARY_SECRET.
	t.Setenv("NOTARY_AUTHORITY", subject(50).String())

	code, resp, _ := e.run(t, "update", subject(1).String(), "--gini", "1")
	assert.Equal(t, ExitRejected, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, notary.KindAuthorization, resp.Error.Kind)
	assert.Equal(t, "unauthorized_notary", resp.Error.Code)
}

func TestUpdate_MissingSecret(t *testing.T) {
	e := newTestEnv(t)
	t.Setenv("NOTARY_SECRET", "")

	code, _, _ := e.run(t, "update", subject(1).String())
	assert.Equal(t, ExitCommandError, code)
}

func TestUpdate_BadFlags(t *testing.T) {
	e := newTestEnv(t)

	code, _, _ := e.run(t, "update", subject(1).String(), "--gini", "70000")
	assert.Equal(t, ExitFailure, code, "uint16 overflow is a flag parse error")

	code, _, _ = e.run(t, "update", subject(1).String(), "--payer", "nope!")
	assert.Equal(t, ExitCommandError, code)
}

func TestSpoolThenDrain(t *testing.T) {
	e := newTestEnv(t)
	spool := filepath.Join(e.dir, "spool")

	code, resp, _ := e.run(t, "update", subject(1).String(), "--gini", "10", "--spool", spool)
	require.Equal(t, ExitSuccess, code)
	var rcpt ReceiptResult
	data(t, resp, &rcpt)
	assert.True(t, rcpt.Spooled)
	assert.NotEmpty(t, rcpt.RequestID)

	code, _, _ = e.run(t, "update", subject(1).String(), "--gini", "20", "--spool", spool)
	require.Equal(t, ExitSuccess, code)

	// Nothing reaches the store until the spool is drained.
	code, _, _ = e.run(t, "inspect", subject(1).String())
	assert.Equal(t, ExitRejected, code)

	code, resp, _ = e.run(t, "drain", spool)
	require.Equal(t, ExitSuccess, code)
	var res DrainResult
	data(t, resp, &res)
	assert.Equal(t, DrainResult{Applied: 2}, res)

	code, resp, _ = e.run(t, "inspect", subject(1).String())
	require.Equal(t, ExitSuccess, code)
	var rec RecordResult
	data(t, resp, &rec)
	assert.Equal(t, uint16(20), rec.Record.GiniScore)

	ft, err := notary.NewFolderTransport(spool)
	require.NoError(t, err)
	done, err := ft.LoadReceipt(rcpt.RequestID)
	require.NoError(t, err)
	assert.True(t, done.Created)
}

func TestDrain_RequestWindow(t *testing.T) {
	e := newTestEnv(t)
	spool := filepath.Join(e.dir, "spool")

	code, _, _ := e.run(t, "update", subject(1).String(), "--gini", "10", "--spool", spool)
	require.Equal(t, ExitSuccess, code)

	t.Setenv("NOTARY_MAX_REQUEST_AGE", "1ns")
	code, resp, _ := e.run(t, "drain", spool)
	require.Equal(t, ExitSuccess, code)
	var res DrainResult
	data(t, resp, &res)
	assert.Equal(t, DrainResult{Failed: 1}, res)

	code, _, _ = e.run(t, "update", subject(1).String(), "--gini", "20", "--spool", spool)
	require.Equal(t, ExitSuccess, code)
	code, resp, _ = e.run(t, "drain", spool, "--max-age", "0")
	require.Equal(t, ExitSuccess, code)
	data(t, resp, &res)
	assert.Equal(t, DrainResult{Applied: 1}, res)
}

func TestMeteredLedger(t *testing.T) {
	e := newTestEnv(t)
	rent := notary.RentExemptMinimum(notary.RecordSize)
	ledger := filepath.Join(e.dir, "ledger.json")
	payer := subject(40).String()
	t.Setenv("NOTARY_METERED", "true")
	t.Setenv("NOTARY_INITIAL_BALANCE", strconv.FormatUint(rent, 10))
	t.Setenv("NOTARY_TREASURY_PATH", ledger)

	code, _, stderr := e.run(t, "update", subject(1).String(), "--gini", "1")
	require.Equal(t, ExitSuccess, code, stderr)

	// Each run is a fresh process view; the spent genesis balance stays spent.
	code, resp, _ := e.run(t, "update", subject(2).String(), "--gini", "1")
	assert.Equal(t, ExitRejected, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "insufficient_funds", resp.Error.Code)

	code, _, _ = e.run(t, "update", subject(2).String(), "--payer", payer)
	assert.Equal(t, ExitRejected, code)

	code, resp, _ = e.run(t, "fund", payer, strconv.FormatUint(rent, 10))
	require.Equal(t, ExitSuccess, code)
	var res FundResult
	data(t, resp, &res)
	assert.Equal(t, rent, res.Balance)
	assert.Equal(t, ledger, res.Ledger)

	code, _, _ = e.run(t, "update", subject(2).String(), "--payer", payer)
	require.Equal(t, ExitSuccess, code)

	code, resp, _ = e.run(t, "fund", payer)
	require.Equal(t, ExitSuccess, code)
	data(t, resp, &res)
	assert.Zero(t, res.Balance)
}

func TestFund_NeedsLedger(t *testing.T) {
	e := newTestEnv(t)

	code, _, _ := e.run(t, "fund", subject(1).String(), "5")
	assert.Equal(t, ExitCommandError, code)

	t.Setenv("NOTARY_TREASURY_PATH", filepath.Join(e.dir, "ledger.json"))
	code, _, _ = e.run(t, "fund", subject(1).String(), "lots")
	assert.Equal(t, ExitCommandError, code)
}

func writeTransfers(t *testing.T, dir string, gap time.Duration, amounts ...float64) string {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	transfers := make([]notary.Transfer, len(amounts))
	for i, a := range amounts {
		transfers[i] = notary.Transfer{Amount: a, BlockTime: base.Add(time.Duration(i) * gap)}
	}
	raw, err := json.Marshal(transfers)
	require.NoError(t, err)
	path := filepath.Join(dir, "transfers.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestAssess(t *testing.T) {
	e := newTestEnv(t)
	path := writeTransfers(t, e.dir, time.Second, 1, 1, 1, 1)

	code, resp, _ := e.run(t, "assess", path)
	require.Equal(t, ExitSuccess, code)
	var res AssessResult
	data(t, resp, &res)
	assert.Equal(t, notary.StatusSybil, res.Assessment.Status)
	assert.Nil(t, res.Receipt)

	code, _, _ = e.run(t, "assess", path, "--submit")
	assert.Equal(t, ExitCommandError, code, "--submit needs --subject")

	code, resp, _ = e.run(t, "assess", path, "--submit", "--subject", subject(3).String())
	require.Equal(t, ExitSuccess, code)
	data(t, resp, &res)
	require.NotNil(t, res.Receipt)
	assert.True(t, res.Receipt.Created)
	assert.Equal(t, uint8(notary.StatusSybil), res.Receipt.Record.Status)

	code, _, _ = e.run(t, "assess", filepath.Join(e.dir, "absent.json"))
	assert.Equal(t, ExitCommandError, code)
}
