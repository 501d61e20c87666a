package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/docs"
	"github.com/devtaskhq/devtask/internal/httpx"
	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/resilience"
)

const completionsPath = "/chat/completions"

// Chat roles in the completions wire format.
const (
	roleSystem = "system"
	roleUser   = "user"
)

const systemPrompt = "You are devtask's project assistant. Answer concisely in Markdown. " +
	"When asked to draft a workflow document, return only the document body."

// ErrNoAPIKey means the provider credential is missing. Calls fail before
// any request is made; a missing key must never trip the circuit breaker.
var ErrNoAPIKey = errors.New("assistant API key not configured (set DEVTASK_ASSIST_API_KEY)")

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the OpenAI-compatible request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// chatResponse is the subset of the completions response the client reads.
type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// DraftPayload is the canonical queued operation descriptor for a deferred
// drafting request: the serialized chat request plus the document the answer
// lands in.
type DraftPayload struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	ApplyTo  string        `json:"apply_to"`
}

// Config selects the provider endpoint and model.
type Config struct {
	// Endpoint is the API base URL, e.g. https://api.openai.com/v1.
	Endpoint string
	Model    string
	APIKey   string
}

// Client is the assistant API client. All network calls go through the
// resilience manager under the assistant feature.
type Client struct {
	http *httpx.Client
	res  *resilience.Manager
	cfg  Config
	log  *logging.Logger
}

// NewClient creates an assistant client on the shared HTTP client.
func NewClient(cfg Config, http *httpx.Client, res *resilience.Manager, log *logging.Logger) *Client {
	if log == nil {
		log = logging.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{http: http, res: res, cfg: cfg, log: log}
}

// Complete asks the assistant a one-shot question. Never deferred: an
// interactive answer is useless later, so an unreachable provider yields a
// failure, not a queued operation.
func (c *Client) Complete(ctx context.Context, prompt string) resilience.Result {
	if c.cfg.APIKey == "" {
		return resilience.Failed(ErrNoAPIKey, resilience.ReasonAuthenticationFailure)
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []ChatMessage{
			{Role: roleSystem, Content: systemPrompt},
			{Role: roleUser, Content: prompt},
		},
	}
	return c.res.Perform(ctx, resilience.FeatureAssistant, func(ctx context.Context) (interface{}, error) {
		answer, err := c.send(ctx, req)
		if err != nil {
			return nil, err
		}
		return answer, nil
	})
}

// Draft asks the assistant to write a workflow document. Drafting defers to
// the offline queue when the provider is unavailable; the payload carries
// everything needed to re-run the request later.
func (c *Client) Draft(ctx context.Context, prompt string, applyTo docs.Name) resilience.Result {
	if !applyTo.Valid() {
		return resilience.Failed(fmt.Errorf("%w: %s", docs.ErrUnknownDocument, applyTo), resilience.ReasonRepeatedFailure)
	}
	if c.cfg.APIKey == "" {
		return resilience.Failed(ErrNoAPIKey, resilience.ReasonAuthenticationFailure)
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []ChatMessage{
			{Role: roleSystem, Content: systemPrompt},
			{Role: roleUser, Content: fmt.Sprintf("Draft the complete Markdown body for the %q workflow document. %s", applyTo, prompt)},
		},
	}

	payload, err := sonic.Marshal(DraftPayload{Model: req.Model, Messages: req.Messages, ApplyTo: applyTo.String()})
	if err != nil {
		return resilience.Failed(fmt.Errorf("encode draft payload: %w", err), resilience.ReasonRepeatedFailure)
	}

	return c.res.Perform(ctx, resilience.FeatureAssistant, func(ctx context.Context) (interface{}, error) {
		answer, err := c.send(ctx, req)
		if err != nil {
			return nil, err
		}
		return answer, nil
	}, resilience.Deferrable(payload))
}

// ReplayExecutor returns the payload executor for deferred drafting
// operations: re-run the chat request and write the sanitized answer into
// the target document.
func (c *Client) ReplayExecutor(store *docs.Store) resilience.PayloadExecutor {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p DraftPayload
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode draft payload: %w", err)
		}
		if p.ApplyTo == "" {
			return fmt.Errorf("draft payload names no target document")
		}
		if c.cfg.APIKey == "" {
			return ErrNoAPIKey
		}

		model := p.Model
		if model == "" {
			model = c.cfg.Model
		}
		answer, err := c.send(ctx, chatRequest{Model: model, Messages: p.Messages})
		if err != nil {
			return err
		}
		if err := Apply(store, docs.Name(p.ApplyTo), answer); err != nil {
			return err
		}
		c.log.Info("deferred draft applied", zap.String("document", p.ApplyTo))
		return nil
	}
}

// Apply writes an assistant answer into a workflow document. The content is
// sanitized on the way in; assistant output is untrusted.
func Apply(store *docs.Store, name docs.Name, answer string) error {
	content := strings.TrimSpace(answer) + "\n"
	return store.WriteSanitized(name, []byte(content))
}

// send performs one completions request and extracts the answer text.
func (c *Client) send(ctx context.Context, body chatRequest) (string, error) {
	req, err := c.http.R(ctx)
	if err != nil {
		return "", err
	}

	var out chatResponse
	resp, err := req.
		SetAuthToken(c.cfg.APIKey).
		SetBody(body).
		SetResult(&out).
		Post(c.cfg.Endpoint + completionsPath)
	if err != nil {
		return "", fmt.Errorf("assistant request: %w", err)
	}
	if err := httpx.CheckStatus(resp); err != nil {
		return "", err
	}

	if len(out.Choices) == 0 {
		return "", fmt.Errorf("assistant returned no choices")
	}
	answer := strings.TrimSpace(out.Choices[0].Message.Content)
	if answer == "" {
		return "", fmt.Errorf("assistant returned an empty answer")
	}
	return answer, nil
}
