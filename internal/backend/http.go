package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/better-wallet/wallet-core/internal/logger"
	"github.com/better-wallet/wallet-core/pkg/types"
)

const codeAddressMissing = "address_missing"

const (
	optInStatusQuery = `query OptInStatus($targetId: ID!, $assetIds: [String!]!) {
  optInStatus(targetId: $targetId, assetIds: $assetIds) { address missingAssets }
}`
	prepareOptInsMutation = `mutation PrepareOptIns($targetId: ID!, $assetIds: [String!]!) {
  prepareOptIns(targetId: $targetId, assetIds: $assetIds) { entries { type assetId transaction } }
}`
	registerAddressMutation = `mutation RegisterAddress($targetId: ID!, $address: String!) {
  registerAddress(targetId: $targetId, address: $address) { success }
}`
	submitGroupMutation = `mutation SubmitSponsoredGroup($signedSponsorTxn: String!, $signedUserTxns: [String!]!) {
  submitSponsoredGroup(signedSponsorTxn: $signedSponsorTxn, signedUserTxns: $signedUserTxns) {
    success error transactionId confirmedRound
  }
}`
)

// HTTPClient talks to the wallet backend's GraphQL endpoint. It implements
// both PreparationService and SubmissionService.
type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPClient creates a client for endpoint. timeout bounds every request
// except submissions, which the caller bounds.
func NewHTTPClient(endpoint, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// BackendError is a GraphQL-level error returned by the backend
type BackendError struct {
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
	}
	return "backend error: " + e.Message
}

func (e *BackendError) Is(target error) bool {
	return target == ErrAddressMissing && e.Code == codeAddressMissing
}

func assetIDStrings(ids []uint64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatUint(id, 10)
	}
	return out
}

func (c *HTTPClient) OptInStatus(ctx context.Context, targetID string, assetIDs []uint64) (*types.OptInStatus, error) {
	var data struct {
		OptInStatus struct {
			Address       string   `json:"address"`
			MissingAssets []string `json:"missingAssets"`
		} `json:"optInStatus"`
	}
	err := c.do(ctx, optInStatusQuery, map[string]any{
		"targetId": targetID,
		"assetIds": assetIDStrings(assetIDs),
	}, &data)
	if err != nil {
		return nil, err
	}

	status := &types.OptInStatus{Address: data.OptInStatus.Address}
	for _, s := range data.OptInStatus.MissingAssets {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid asset id %q in status: %w", s, err)
		}
		status.MissingAssets = append(status.MissingAssets, id)
	}
	return status, nil
}

func (c *HTTPClient) PrepareOptIns(ctx context.Context, targetID string, assetIDs []uint64) ([]types.WireBatchEntry, error) {
	var data struct {
		PrepareOptIns struct {
			Entries []struct {
				Type        string `json:"type"`
				AssetID     string `json:"assetId"`
				Transaction string `json:"transaction"`
			} `json:"entries"`
		} `json:"prepareOptIns"`
	}
	err := c.do(ctx, prepareOptInsMutation, map[string]any{
		"targetId": targetID,
		"assetIds": assetIDStrings(assetIDs),
	}, &data)
	if err != nil {
		return nil, err
	}

	entries := make([]types.WireBatchEntry, 0, len(data.PrepareOptIns.Entries))
	for _, e := range data.PrepareOptIns.Entries {
		entry := types.WireBatchEntry{Type: e.Type, Transaction: e.Transaction}
		if e.AssetID != "" {
			id, err := strconv.ParseUint(e.AssetID, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid asset id %q in batch: %w", e.AssetID, err)
			}
			entry.AssetID = id
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *HTTPClient) RegisterAddress(ctx context.Context, targetID, address string) error {
	var data struct {
		RegisterAddress struct {
			Success bool `json:"success"`
		} `json:"registerAddress"`
	}
	err := c.do(ctx, registerAddressMutation, map[string]any{
		"targetId": targetID,
		"address":  address,
	}, &data)
	if err != nil {
		return err
	}
	if !data.RegisterAddress.Success {
		return fmt.Errorf("backend refused address registration")
	}
	return nil
}

func (c *HTTPClient) Submit(ctx context.Context, group SignedGroup) (*types.SubmissionResponse, error) {
	userTxns := make([]string, len(group.UserTxns))
	for i, raw := range group.UserTxns {
		userTxns[i] = base64.StdEncoding.EncodeToString(raw)
	}

	var data struct {
		SubmitSponsoredGroup struct {
			Success        bool   `json:"success"`
			Error          string `json:"error"`
			TransactionID  string `json:"transactionId"`
			ConfirmedRound uint64 `json:"confirmedRound"`
		} `json:"submitSponsoredGroup"`
	}
	err := c.do(ctx, submitGroupMutation, map[string]any{
		"signedSponsorTxn": base64.StdEncoding.EncodeToString(group.SponsorTxn),
		"signedUserTxns":   userTxns,
	}, &data)
	if err != nil {
		return nil, err
	}
	r := data.SubmitSponsoredGroup
	return &types.SubmissionResponse{
		Success:        r.Success,
		Error:          r.Error,
		TransactionID:  r.TransactionID,
		ConfirmedRound: r.ConfirmedRound,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	requestID := logger.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read backend response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var gql graphQLResponse
	if err := json.Unmarshal(raw, &gql); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	if len(gql.Errors) > 0 {
		e := gql.Errors[0]
		return &BackendError{Code: e.Extensions.Code, Message: e.Message}
	}
	if err := json.Unmarshal(gql.Data, out); err != nil {
		return fmt.Errorf("failed to decode backend data: %w", err)
	}
	return nil
}

var (
	_ PreparationService = (*HTTPClient)(nil)
	_ SubmissionService  = (*HTTPClient)(nil)
)
