package notary

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Transport delivers a signed update_integrity request to a notary.
// Different implementations use HTTP, an in-process Notary, or a spool folder.
type Transport interface {
	Submit(ctx context.Context, req UpdateRequest) (Receipt, error)
}

// IntegrityPath is the route that accepts update_integrity requests.
const IntegrityPath = "/api/v1/integrity"

// HTTPTransport implements Transport using JSON over HTTP/HTTPS.
type HTTPTransport struct {
	BaseURL string       // Base URL of the notary (e.g., "https://notary.example.com")
	Client  *http.Client // HTTP client (can customize timeouts, TLS, etc.)
}

// NewHTTPTransport creates a JSON transport for the notary at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts req as JSON and decodes the receipt.
func (t *HTTPTransport) Submit(ctx context.Context, req UpdateRequest) (Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+IntegrityPath, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Receipt{}, remoteError(resp.StatusCode, data, func(b []byte) (WireError, error) {
			var we WireError
			err := json.Unmarshal(b, &we)
			return we, err
		})
	}

	var rcpt Receipt
	if err := json.Unmarshal(data, &rcpt); err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return rcpt, nil
}

// remoteError turns a non-success response into a typed error when the body
// carries a WireError, and a plain status error otherwise.
func remoteError(status int, body []byte, decode func([]byte) (WireError, error)) error {
	we, err := decode(body)
	if err != nil || (we.Kind == "" && we.Message == "") {
		return fmt.Errorf("server returned %d: %s", status, bytes.TrimSpace(body))
	}
	return we.Err()
}

// LocalTransport submits to an in-process Notary.
// Useful for testing or single-machine deployments.
type LocalTransport struct {
	Notary *Notary
}

// NewLocalTransport creates a transport bound to n.
func NewLocalTransport(n *Notary) *LocalTransport {
	return &LocalTransport{Notary: n}
}

// Submit applies req directly.
func (t *LocalTransport) Submit(ctx context.Context, req UpdateRequest) (Receipt, error) {
	return t.Notary.UpdateIntegrity(ctx, req)
}

// FolderTransport spools signed requests into a local folder for a notary to
// apply later with Drain. Folder structure:
//
//	{dir}/pending/{id}.gob  - UpdateRequest awaiting the notary
//	{dir}/done/{id}.gob     - Receipt of an applied request
//	{dir}/failed/{id}.gob   - UpdateRequest the notary rejected
//	{dir}/failed/{id}.json  - WireError describing the rejection
//
// Request IDs are UUIDv7, so lexical order is submission order.
type FolderTransport struct {
	BaseDir string
	mu      sync.Mutex
}

// NewFolderTransport creates the spool directory structure under dir.
func NewFolderTransport(dir string) (*FolderTransport, error) {
	for _, d := range []string{"pending", "done", "failed"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o700); err != nil {
			return nil, err
		}
	}
	return &FolderTransport{BaseDir: dir}, nil
}

// Submit writes req to the pending folder. The returned receipt only carries
// the request ID; the outcome is available from LoadReceipt after a drain.
func (ft *FolderTransport) Submit(ctx context.Context, req UpdateRequest) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Receipt{}, fmt.Errorf("request id: %w", err)
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()

	final := ft.path("pending", id.String()+".gob")
	if err := writeGob(final, req); err != nil {
		return Receipt{}, fmt.Errorf("spool request: %w", err)
	}
	return Receipt{RequestID: id.String()}, nil
}

// Pending returns the IDs of spooled requests in submission order.
func (ft *FolderTransport) Pending() ([]string, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.pendingLocked()
}

func (ft *FolderTransport) pendingLocked() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(ft.BaseDir, "pending"))
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".gob") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".gob"))
	}
	sort.Strings(ids)
	return ids, nil
}

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Applied int
	Failed  int
}

// Drain applies every pending request to n in submission order. Rejected
// requests move to the failed folder with their error; Drain itself only fails
// on spool I/O errors or context cancellation.
func (ft *FolderTransport) Drain(ctx context.Context, n *Notary) (DrainResult, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var res DrainResult
	ids, err := ft.pendingLocked()
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		src := ft.path("pending", id+".gob")
		var req UpdateRequest
		if err := readGob(src, &req); err != nil {
			return res, fmt.Errorf("read spooled request %s: %w", id, err)
		}

		rcpt, applyErr := n.UpdateIntegrity(ctx, req)
		if applyErr != nil {
			if errors.Is(applyErr, context.Canceled) || errors.Is(applyErr, context.DeadlineExceeded) {
				return res, applyErr
			}
			if err := ft.fail(id, src, applyErr); err != nil {
				return res, err
			}
			res.Failed++
			continue
		}

		rcpt.RequestID = id
		if err := writeGob(ft.path("done", id+".gob"), rcpt); err != nil {
			return res, fmt.Errorf("write receipt %s: %w", id, err)
		}
		if err := os.Remove(src); err != nil {
			return res, err
		}
		res.Applied++
	}
	return res, nil
}

func (ft *FolderTransport) fail(id, src string, cause error) error {
	data, err := json.Marshal(NewWireError(cause))
	if err != nil {
		return err
	}
	if err := os.WriteFile(ft.path("failed", id+".json"), data, 0o600); err != nil {
		return err
	}
	return os.Rename(src, ft.path("failed", id+".gob"))
}

// LoadReceipt returns the receipt of an applied request. A rejected request
// yields its rebuilt typed error; a request not yet drained yields ErrRecordNotFound.
func (ft *FolderTransport) LoadReceipt(id string) (Receipt, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Receipt{}, fmt.Errorf("invalid request id %q: %w", id, err)
	}
	ft.mu.Lock()
	defer ft.mu.Unlock()

	var rcpt Receipt
	err := readGob(ft.path("done", id+".gob"), &rcpt)
	if err == nil {
		return rcpt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Receipt{}, err
	}

	data, err := os.ReadFile(ft.path("failed", id+".json"))
	if err == nil {
		var we WireError
		if err := json.Unmarshal(data, &we); err != nil {
			return Receipt{}, fmt.Errorf("decode failure %s: %w", id, err)
		}
		return Receipt{}, we.Err()
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Receipt{}, err
	}
	return Receipt{}, fmt.Errorf("request %s: %w", id, ErrRecordNotFound)
}

func (ft *FolderTransport) path(dir, name string) string {
	return filepath.Join(ft.BaseDir, dir, name)
}

// writeGob encodes v to a temp file and renames it into place.
func writeGob(path string, v any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".spool-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := gob.NewEncoder(tmp).Encode(v); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readGob(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewDecoder(f).Decode(v)
}

// Submitter signs updates with the notary keypair and sends them over a Transport.
type Submitter struct {
	Keypair   Keypair
	Transport Transport
	Clock     func() time.Time // request issue time (nil = time.Now)
}

// Notarize signs u and submits it.
func (s *Submitter) Notarize(ctx context.Context, u Update) (Receipt, error) {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	req := NewUpdateRequest(u, s.Keypair.Public(), now())
	req.Sign(s.Keypair)
	return s.Transport.Submit(ctx, req)
}

// NotarizeActivity scores transfers for subject and submits the result.
func (s *Submitter) NotarizeActivity(ctx context.Context, subject Identity, transfers []Transfer) (Assessment, Receipt, error) {
	a := Assess(transfers)
	rcpt, err := s.Notarize(ctx, a.Update(subject))
	return a, rcpt, err
}
