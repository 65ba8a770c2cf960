package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/loglineos/ledger/internal/secret"
)

// ProviderRequest asks the wallet to call an upstream provider using a
// stored credential. The caller never sees the credential.
type ProviderRequest struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Input    map[string]any `json:"input"`
}

// ProviderResponse is the upstream response plus a trace id for the
// execution span.
type ProviderResponse struct {
	Output  map[string]any `json:"output"`
	TraceID string         `json:"trace_id"`
}

// Invoker performs one outbound provider call per request. Base URLs
// come from configuration; the zero value is unusable.
type Invoker struct {
	service  *Service
	client   *http.Client
	baseURLs map[string]string
}

// NewInvoker wires a provider invoker. baseURLs maps provider name to
// endpoint URL.
func NewInvoker(service *Service, baseURLs map[string]string) *Invoker {
	return &Invoker{
		service:  service,
		client:   &http.Client{Timeout: 60 * time.Second},
		baseURLs: baseURLs,
	}
}

// Invoke fetches the provider credential named by kid, performs one
// outbound call, and returns the structured response. The credential is
// scoped to this call.
//
// Capability and key-type checks run before the secret fetch, matching
// the signing paths.
func (inv *Invoker) Invoke(ctx context.Context, walletID, kid string, req ProviderRequest) (ProviderResponse, error) {
	if req.Provider == "" || req.Model == "" {
		return ProviderResponse{}, fmt.Errorf("wallet: provider and model required")
	}

	item, err := inv.service.reg.activeKey(ctx, walletID, kid)
	if err != nil {
		return ProviderResponse{}, err
	}
	if item.Type != TypeProviderKey {
		return ProviderResponse{}, fmt.Errorf("wallet: key %s/%s is not a provider key: %w", walletID, kid, ErrNotFound)
	}
	if !item.HasCapability(CapProviderInvoke) {
		return ProviderResponse{}, fmt.Errorf("wallet: key %s/%s lacks %s: %w", walletID, kid, CapProviderInvoke, ErrPermissionDenied)
	}

	baseURL, ok := inv.baseURLs[req.Provider]
	if !ok {
		return ProviderResponse{}, fmt.Errorf("wallet: provider %q not configured", req.Provider)
	}

	apiKey, err := inv.service.secrets.Get(ctx, item.SecretRef)
	if err != nil {
		if errors.Is(err, secret.ErrNotFound) {
			return ProviderResponse{}, fmt.Errorf("wallet: credential for %s/%s: %w", walletID, kid, ErrNotFound)
		}
		return ProviderResponse{}, fmt.Errorf("wallet: fetch credential: %w", err)
	}
	defer zero(apiKey)

	body, err := json.Marshal(map[string]any{
		"model": req.Model,
		"input": req.Input,
	})
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("wallet: marshal provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(body))
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("wallet: build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", string(apiKey))

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		return ProviderResponse{}, fmt.Errorf("wallet: provider %s unreachable: %w", req.Provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ProviderResponse{}, fmt.Errorf("wallet: provider %s returned %d", req.Provider, resp.StatusCode)
	}

	var output map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&output); err != nil {
		return ProviderResponse{}, fmt.Errorf("wallet: decode provider response: %w", err)
	}

	return ProviderResponse{
		Output:  output,
		TraceID: "trace_" + uuid.NewString(),
	}, nil
}
