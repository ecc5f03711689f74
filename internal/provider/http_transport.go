package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"paymesh/internal/domain"
)

const maxReplyBytes = 1 << 20

// HTTPTransport posts calls to {endpoint}/payments.
type HTTPTransport struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewHTTPTransport(client *http.Client, endpoint, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, call Call) (Reply, error) {
	body, err := sonic.Marshal(call)
	if err != nil {
		return Reply{}, fmt.Errorf("encode call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/payments", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", call.PaymentID)
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Reply{}, fmt.Errorf("read reply: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		reply := Reply{Status: ReplyDeclined}
		_ = sonic.Unmarshal(raw, &reply)
		reply.Status = ReplyDeclined
		if reply.Reason == "" {
			reply.Reason = fmt.Sprintf("declined by provider (HTTP %d)", resp.StatusCode)
		}
		return reply, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Reply{}, &domain.PaymentError{
			Kind:    domain.ErrProviderFailure,
			Message: fmt.Sprintf("provider answered HTTP %d", resp.StatusCode),
		}
	}

	var reply Reply
	if err := sonic.Unmarshal(raw, &reply); err != nil {
		return Reply{}, &domain.PaymentError{Kind: domain.ErrProviderFailure, Message: "malformed provider reply", Err: err}
	}
	switch reply.Status {
	case ReplyApproved, ReplyPending, ReplyDeclined:
	default:
		return Reply{}, domain.NewPaymentError(domain.ErrProviderFailure, "unknown provider status %q", reply.Status)
	}
	return reply, nil
}
