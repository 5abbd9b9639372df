package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// BridgeAuthenticator talks to the companion app that owns the OS biometric
// dialog and keychain, over a loopback HTTP bridge
type BridgeAuthenticator struct {
	baseURL string
	client  *http.Client
}

// NewBridgeAuthenticator creates an authenticator for the bridge at baseURL.
// Prompts wait on a human, so the client has no overall timeout; callers
// bound the wait through their context.
func NewBridgeAuthenticator(baseURL string) *BridgeAuthenticator {
	return &BridgeAuthenticator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

type bridgePromptResponse struct {
	Outcome     string `json:"outcome"`
	DeviceShare []byte `json:"device_share,omitempty"`
}

func (b *BridgeAuthenticator) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var out struct {
		Available bool `json:"available"`
	}
	if err := b.do(ctx, http.MethodGet, "/available", nil, &out); err != nil {
		return false
	}
	return out.Available
}

func (b *BridgeAuthenticator) Prompt(ctx context.Context, reason string) (PromptResult, error) {
	var out bridgePromptResponse
	if err := b.do(ctx, http.MethodPost, "/prompt", map[string]string{"reason": reason}, &out); err != nil {
		return PromptResult{}, err
	}

	switch out.Outcome {
	case "success":
		return PromptResult{Outcome: OutcomeSuccess, DeviceShare: out.DeviceShare}, nil
	case "denied":
		return PromptResult{Outcome: OutcomeDenied}, nil
	case "lockout":
		return PromptResult{Outcome: OutcomeLockout}, nil
	case "unsupported":
		return PromptResult{Outcome: OutcomeUnsupported}, nil
	default:
		return PromptResult{}, fmt.Errorf("unknown prompt outcome %q", out.Outcome)
	}
}

func (b *BridgeAuthenticator) StoreDeviceShare(ctx context.Context, share []byte) error {
	return b.do(ctx, http.MethodPost, "/device-share", map[string][]byte{"share": share}, nil)
}

func (b *BridgeAuthenticator) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode bridge request: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("biometric bridge %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("biometric bridge %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode bridge response: %w", err)
	}
	return nil
}

var (
	_ Authenticator = (*BridgeAuthenticator)(nil)
	_ Authenticator = Unsupported{}
)
