package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karasz/notary"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(WrapExitError(ExitRejected, "update rejected",
		&notary.AuthorizationError{Err: notary.ErrUnauthorizedNotary}))
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, notary.KindAuthorization, resp.Error.Kind)
	assert.Equal(t, "unauthorized_notary", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "update rejected")
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(DrainResult{Applied: 3, Failed: 1})
	require.NoError(t, err)
	assert.Equal(t, "applied 3, failed 1\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "text",
		Writer:    out,
		ErrWriter: errOut,
	}

	require.NoError(t, formatter.Error(&notary.StorageError{Op: "create", Err: notary.ErrRecordExists}))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [storage/record_exists]:")

	errOut.Reset()
	require.NoError(t, formatter.Error(errors.New("disk full")))
	assert.Equal(t, "Error: disk full\n", errOut.String())
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	formatter.VerboseLog("hidden %d", 1)
	assert.Empty(t, buf.String())

	formatter.Verbose = true
	formatter.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitRejected, GetExitCode(fmt.Errorf("wrapped: %w", NewExitError(ExitRejected, "no"))))
}

func TestRejection(t *testing.T) {
	err := rejection("update", &notary.DerivationError{Err: notary.ErrMalformedIdentity})
	assert.Equal(t, ExitRejected, GetExitCode(err))
	assert.ErrorIs(t, err, notary.ErrMalformedIdentity)

	err = rejection("update", errors.New("connection refused"))
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestResultStrings(t *testing.T) {
	rcpt := ReceiptResult{Receipt: notary.Receipt{
		Created: true,
		Record:  notary.IntegrityRecord{Subject: subject(1), GiniScore: 4250, Status: 1},
	}}
	assert.Contains(t, rcpt.String(), "created ")
	assert.Contains(t, rcpt.String(), "VERIFIED")
	assert.Equal(t, "spooled request abc", ReceiptResult{Receipt: notary.Receipt{RequestID: "abc"}, Spooled: true}.String())

	rec := RecordResult{Record: notary.IntegrityRecord{GiniScore: 4250, HHIScore: 10000, Status: 3}}
	assert.Contains(t, rec.String(), "0.4250")
	assert.Contains(t, rec.String(), "1.0000")
	assert.Contains(t, rec.String(), "SYBIL")

	assert.Contains(t, KeygenResult{Public: "pub", File: "id.json"}.String(), "written to id.json")
}
