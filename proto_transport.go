package notary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProtoHTTPTransport implements Transport using Protocol Buffers over HTTP/HTTPS.
// This is more compact than JSON and language-agnostic.
type ProtoHTTPTransport struct {
	BaseURL string       // Base URL of the notary (e.g., "https://notary.example.com")
	Client  *http.Client // HTTP client (can customize timeouts, TLS, etc.)
}

// NewProtoHTTPTransport creates a new Protocol Buffer HTTP transport.
func NewProtoHTTPTransport(baseURL string) *ProtoHTTPTransport {
	return &ProtoHTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts req as a protobuf UpdateRequest and decodes the Receipt.
func (t *ProtoHTTPTransport) Submit(ctx context.Context, req UpdateRequest) (Receipt, error) {
	data, err := MarshalProtoUpdateRequest(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+IntegrityPath, bytes.NewReader(data))
	if err != nil {
		return Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", ProtoContentType)
	httpReq.Header.Set("Accept", ProtoContentType)

	resp, err := t.Client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if !strings.HasPrefix(resp.Header.Get("Content-Type"), ProtoContentType) {
			return Receipt{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
		return Receipt{}, remoteError(resp.StatusCode, body, UnmarshalProtoError)
	}

	return UnmarshalProtoReceipt(body)
}
