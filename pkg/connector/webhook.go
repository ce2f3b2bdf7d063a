package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// WebhookProvisioner posts provisioning orders to an external fulfiller
// (ITSM queue or IGA adapter). 2xx means applied, 4xx is permanent, 5xx
// and transport errors are transient.
type WebhookProvisioner struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookProvisioner builds a provisioner for the given endpoint.
func NewWebhookProvisioner(endpoint, token string, logger *slog.Logger) *WebhookProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProvisioner{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

type provisionOrder struct {
	Operation string                      `json:"operation"`
	RequestID string                      `json:"request_id"`
	Items     []contracts.RequestedAccess `json:"items,omitempty"`
}

func (p *WebhookProvisioner) Provision(ctx context.Context, requestID string, items []contracts.RequestedAccess) (*contracts.ProvisionResult, error) {
	return p.post(ctx, provisionOrder{Operation: "PROVISION", RequestID: requestID, Items: items})
}

func (p *WebhookProvisioner) Revoke(ctx context.Context, requestID string) (*contracts.ProvisionResult, error) {
	return p.post(ctx, provisionOrder{Operation: "REVOKE", RequestID: requestID})
}

func (p *WebhookProvisioner) post(ctx context.Context, order provisionOrder) (*contracts.ProvisionResult, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "encode provision order")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(faults.Fatal, err, "build provision request")
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.TransientExternal, err, "%s %s", order.Operation, order.RequestID).Entity(order.RequestID)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &contracts.ProvisionResult{OK: true}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		p.logger.Warn("provisioner rejected order",
			"operation", order.Operation, "request_id", order.RequestID, "status", resp.StatusCode)
		return &contracts.ProvisionResult{
			OK:        false,
			Permanent: true,
			Error:     fmt.Sprintf("fulfiller rejected order: %d %s", resp.StatusCode, string(payload)),
		}, nil
	default:
		return nil, faults.New(faults.TransientExternal, "fulfiller returned %d for %s %s",
			resp.StatusCode, order.Operation, order.RequestID).Entity(order.RequestID)
	}
}

// LogNotifier writes notifications to the structured log. Deployments
// without a mail gateway keep an operator-visible trail.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, recipient, subject, body string) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "recipient", recipient, "subject", subject, "body", body)
	return nil
}
