package notary

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, n *Notary) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(n, ServerConfig{Logger: quietLogger()}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// stepClock returns a clock that starts at start and advances a second per reading.
func stepClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

// testTransport runs the behavior every synchronous Transport shares.
func testTransport(t *testing.T, f *fixture, tr Transport) {
	t.Helper()
	ctx := context.Background()
	sub := &Submitter{Keypair: f.authority, Transport: tr, Clock: stepClock(testNow)}

	rcpt, err := sub.Notarize(ctx, Update{Subject: testSubject(1), GiniScore: 100, Status: 1})
	require.NoError(t, err)
	assert.True(t, rcpt.Created)
	assert.Equal(t, RentExemptMinimum(RecordSize), rcpt.RentPaid)
	assert.Equal(t, uint16(100), rcpt.Record.GiniScore)
	assert.Equal(t, testNow.Unix(), rcpt.Record.LastUpdated)

	addr, bump, err := f.notary.Deriver().Derive(f.notary.Namespace(), testSubject(1))
	require.NoError(t, err)
	assert.Equal(t, addr, rcpt.Address)
	assert.Equal(t, bump, rcpt.Bump)

	rcpt, err = sub.Notarize(ctx, Update{Subject: testSubject(1), GiniScore: 200, Status: 3})
	require.NoError(t, err)
	assert.False(t, rcpt.Created)
	assert.Zero(t, rcpt.RentPaid)
	assert.Equal(t, uint8(3), rcpt.Record.Status)

	// Resending a captured request cannot roll the record back.
	stale := NewUpdateRequest(Update{Subject: testSubject(1), GiniScore: 100, Status: 1}, f.authority.Public(), testNow)
	stale.Sign(f.authority)
	_, err = tr.Submit(ctx, stale)
	assert.ErrorIs(t, err, ErrReplayedRequest)
	assert.Equal(t, KindAuthorization, ErrorKind(err))
	rec, _, err := NewInspector(f.notary.Store(), f.notary.Deriver(), "").Inspect(ctx, testSubject(1))
	require.NoError(t, err)
	assert.Equal(t, uint8(3), rec.Status)

	// A foreign signer is rejected with the authorization kind intact.
	intruder := &Submitter{Keypair: testKeypair(t, 8), Transport: tr, Clock: sub.Clock}
	_, err = intruder.Notarize(ctx, Update{Subject: testSubject(2)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorizedNotary)
	var authErr *AuthorizationError
	assert.ErrorAs(t, err, &authErr)

	// A payer without funds is rejected with the storage kind.
	_, err = sub.Notarize(ctx, Update{Subject: testSubject(3), Payer: testSubject(99)})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, KindStorage, ErrorKind(err))
}

func TestLocalTransport(t *testing.T) {
	f := newFixture(t)
	testTransport(t, f, NewLocalTransport(f.notary))
}

func TestHTTPTransport(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f.notary)
	testTransport(t, f, NewHTTPTransport(srv.URL+"/"))
}

func TestProtoHTTPTransport(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f.notary)
	testTransport(t, f, NewProtoHTTPTransport(srv.URL))
}

func TestHTTPTransport_ReceiptCarriesRequestID(t *testing.T) {
	f := newFixture(t)
	srv := newTestServer(t, f.notary)

	for name, tr := range map[string]Transport{
		"json":  NewHTTPTransport(srv.URL),
		"proto": NewProtoHTTPTransport(srv.URL),
	} {
		t.Run(name, func(t *testing.T) {
			sub := &Submitter{Keypair: f.authority, Transport: tr}
			rcpt, err := sub.Notarize(context.Background(), Update{Subject: testSubject(4)})
			require.NoError(t, err)
			assert.NotEmpty(t, rcpt.RequestID)
		})
	}
}

func TestHTTPTransport_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	sub := &Submitter{Keypair: testKeypair(t, 7), Transport: NewHTTPTransport(url)}
	_, err := sub.Notarize(context.Background(), Update{Subject: testSubject(1)})
	require.Error(t, err)
	assert.Empty(t, ErrorKind(err))
}

func TestFolderTransport_SubmitAndDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dir := t.TempDir()

	ft, err := NewFolderTransport(dir)
	require.NoError(t, err)
	sub := &Submitter{Keypair: f.authority, Transport: ft, Clock: stepClock(testNow)}

	first, err := sub.Notarize(ctx, Update{Subject: testSubject(1), GiniScore: 1})
	require.NoError(t, err)
	second, err := sub.Notarize(ctx, Update{Subject: testSubject(1), GiniScore: 2})
	require.NoError(t, err)
	rejected, err := (&Submitter{Keypair: testKeypair(t, 8), Transport: ft}).Notarize(ctx, Update{Subject: testSubject(2)})
	require.NoError(t, err, "spooling never checks authorization")

	assert.NotEmpty(t, first.RequestID)
	assert.False(t, first.Created, "a spooled receipt carries only the request ID")
	assert.Zero(t, f.store.touched(), "nothing is applied before Drain")

	pending, err := ft.Pending()
	require.NoError(t, err)
	assert.Equal(t, []string{first.RequestID, second.RequestID, rejected.RequestID}, pending)

	_, err = ft.LoadReceipt(first.RequestID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	res, err := ft.Drain(ctx, f.notary)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Applied: 2, Failed: 1}, res)

	pending, err = ft.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Submission order is preserved: the create comes first, then the update.
	rcpt, err := ft.LoadReceipt(first.RequestID)
	require.NoError(t, err)
	assert.True(t, rcpt.Created)
	assert.Equal(t, first.RequestID, rcpt.RequestID)

	rcpt, err = ft.LoadReceipt(second.RequestID)
	require.NoError(t, err)
	assert.False(t, rcpt.Created)
	assert.Equal(t, uint16(2), rcpt.Record.GiniScore)

	_, err = ft.LoadReceipt(rejected.RequestID)
	assert.ErrorIs(t, err, ErrUnauthorizedNotary)
	assert.FileExists(t, filepath.Join(dir, "failed", rejected.RequestID+".gob"))

	// A second drain has nothing to do.
	res, err = ft.Drain(ctx, f.notary)
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestFolderTransport_DrainRejectsReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ft, err := NewFolderTransport(t.TempDir())
	require.NoError(t, err)

	verified := NewUpdateRequest(Update{Subject: testSubject(1), GiniScore: 10, Status: uint8(StatusVerified)}, f.authority.Public(), testNow)
	verified.Sign(f.authority)
	sybil := NewUpdateRequest(Update{Subject: testSubject(1), GiniScore: 9000, Status: uint8(StatusSybil)}, f.authority.Public(), testNow.Add(time.Second))
	sybil.Sign(f.authority)

	for _, req := range []UpdateRequest{verified, sybil} {
		_, err := ft.Submit(ctx, req)
		require.NoError(t, err)
	}
	res, err := ft.Drain(ctx, f.notary)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Applied: 2}, res)

	// The earlier request is dropped into the spool again.
	again, err := ft.Submit(ctx, verified)
	require.NoError(t, err)
	res, err = ft.Drain(ctx, f.notary)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Failed: 1}, res)

	_, err = ft.LoadReceipt(again.RequestID)
	assert.ErrorIs(t, err, ErrReplayedRequest)
	rec, _, err := NewInspector(f.notary.Store(), f.notary.Deriver(), "").Inspect(ctx, testSubject(1))
	require.NoError(t, err)
	assert.Equal(t, uint8(StatusSybil), rec.Status)
	assert.Equal(t, uint16(9000), rec.GiniScore)
}

func TestFolderTransport_DrainStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ft, err := NewFolderTransport(t.TempDir())
	require.NoError(t, err)

	sub := &Submitter{Keypair: f.authority, Transport: ft}
	_, err = sub.Notarize(context.Background(), Update{Subject: testSubject(1)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ft.Drain(ctx, f.notary)
	assert.True(t, errors.Is(err, context.Canceled))

	pending, err := ft.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1, "cancelled drain leaves the request spooled")

	_, err = ft.Submit(ctx, UpdateRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFolderTransport_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	ft, err := NewFolderTransport(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pending", "notes.txt"), []byte("x"), 0o600))

	pending, err := ft.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = ft.LoadReceipt("../../etc/passwd")
	assert.Error(t, err)
}

func TestSubmitter_NotarizeActivity(t *testing.T) {
	f := newFixture(t)
	sub := &Submitter{Keypair: f.authority, Transport: NewLocalTransport(f.notary)}

	transfers := []Transfer{
		{Amount: 1, BlockTime: testNow},
		{Amount: 1, BlockTime: testNow.Add(time.Second)},
		{Amount: 1, BlockTime: testNow.Add(2 * time.Second)},
	}
	a, rcpt, err := sub.NotarizeActivity(context.Background(), testSubject(5), transfers)
	require.NoError(t, err)
	assert.Equal(t, StatusSybil, a.Status)
	assert.Equal(t, uint8(StatusSybil), rcpt.Record.Status)
	assert.Equal(t, ScaleScore(a.HHI), rcpt.Record.HHIScore)
	assert.Equal(t, testSubject(5), rcpt.Record.Subject)
}
