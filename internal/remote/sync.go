package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/devtaskhq/devtask/internal/docs"
	"github.com/devtaskhq/devtask/internal/httpx"
	"github.com/devtaskhq/devtask/internal/logging"
	"github.com/devtaskhq/devtask/internal/resilience"
)

// ErrNoSyncEndpoint means sync was invoked without a configured service.
var ErrNoSyncEndpoint = errors.New("sync endpoint not configured")

// ErrDocNotFound reports the sync service holds no copy of a document.
var ErrDocNotFound = errors.New("document not on sync service")

// SyncConfig configures the workflow document sync client.
type SyncConfig struct {
	Endpoint string
	Token    string
	// Deferrable opts push operations into offline queueing.
	Deferrable bool
}

// SyncPayload is the canonical queued operation descriptor for sync: enough
// to reconstruct the HTTP call verbatim during replay.
type SyncPayload struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// docBody is the JSON envelope documents travel in.
type docBody struct {
	Content string `json:"content"`
}

// PushReport pairs a document with its push outcome.
type PushReport struct {
	Name   docs.Name
	Result resilience.Result
}

// Sync pushes and pulls workflow documents against the configured sync
// service, through the resilience layer under the sync feature.
type Sync struct {
	http *httpx.Client
	res  *resilience.Manager
	cfg  SyncConfig
	log  *logging.Logger
}

// NewSync creates the sync client.
func NewSync(cfg SyncConfig, http *httpx.Client, res *resilience.Manager, log *logging.Logger) *Sync {
	if log == nil {
		log = logging.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Sync{http: http, res: res, cfg: cfg, log: log}
}

// Configured reports whether a sync service endpoint is set.
func (s *Sync) Configured() bool { return s.cfg.Endpoint != "" }

// Push uploads one document. When the config allows deferral, an unreachable
// service queues the payload instead of failing.
func (s *Sync) Push(ctx context.Context, name docs.Name, content []byte) resilience.Result {
	if !s.Configured() {
		return resilience.Failed(ErrNoSyncEndpoint, resilience.ReasonRepeatedFailure)
	}

	body, err := sonic.Marshal(docBody{Content: string(content)})
	if err != nil {
		return resilience.Failed(fmt.Errorf("encode document: %w", err), resilience.ReasonRepeatedFailure)
	}
	payload := SyncPayload{Method: http.MethodPut, Path: docPath(name), Body: body}

	opts := []resilience.Option{}
	if s.cfg.Deferrable {
		raw, err := sonic.Marshal(payload)
		if err != nil {
			return resilience.Failed(fmt.Errorf("encode sync payload: %w", err), resilience.ReasonRepeatedFailure)
		}
		opts = append(opts, resilience.Deferrable(raw))
	}

	return s.res.Perform(ctx, resilience.FeatureSync, s.operation(payload), opts...)
}

// pullOutcome separates "service answered and has no such document" from
// transport failure, so a missing document never counts against the breaker.
type pullOutcome struct {
	content  []byte
	notFound bool
}

// Pull downloads one document's content. Never deferred: the caller wants
// the content now, and the local copy already serves as the fallback.
func (s *Sync) Pull(ctx context.Context, name docs.Name) resilience.Result {
	if !s.Configured() {
		return resilience.Failed(ErrNoSyncEndpoint, resilience.ReasonRepeatedFailure)
	}

	result := s.res.Perform(ctx, resilience.FeatureSync, func(ctx context.Context) (interface{}, error) {
		req, err := s.http.R(ctx)
		if err != nil {
			return nil, err
		}
		if s.cfg.Token != "" {
			req.SetAuthToken(s.cfg.Token)
		}

		var out docBody
		resp, err := req.SetResult(&out).Get(s.cfg.Endpoint + docPath(name))
		if err != nil {
			return nil, fmt.Errorf("sync pull %s: %w", name, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return pullOutcome{notFound: true}, nil
		}
		if err := httpx.CheckStatus(resp); err != nil {
			return nil, err
		}
		return pullOutcome{content: []byte(out.Content)}, nil
	})

	if !result.IsSuccess() {
		return result
	}
	outcome, ok := result.Value().(pullOutcome)
	if !ok {
		return resilience.Failed(fmt.Errorf("sync pull %s: unexpected result shape", name), resilience.ReasonRepeatedFailure)
	}
	if outcome.notFound {
		return resilience.Failed(fmt.Errorf("%w: %s", ErrDocNotFound, name), resilience.ReasonRepeatedFailure)
	}
	return resilience.Success(outcome.content)
}

// PushAll pushes every existing workflow document, one result per document.
func (s *Sync) PushAll(ctx context.Context, store *docs.Store) ([]PushReport, error) {
	list, err := store.List()
	if err != nil {
		return nil, err
	}

	reports := make([]PushReport, 0, len(list))
	for _, doc := range list {
		content, err := store.Read(doc.Name)
		if err != nil {
			return reports, err
		}
		reports = append(reports, PushReport{Name: doc.Name, Result: s.Push(ctx, doc.Name, content)})
	}
	return reports, nil
}

// ReplayExecutor reconstructs and runs a queued sync call. It performs the
// HTTP call directly; the replay path already runs inside Perform and must
// not nest another one.
func (s *Sync) ReplayExecutor() resilience.PayloadExecutor {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p SyncPayload
		if err := sonic.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode sync payload: %w", err)
		}
		if p.Method == "" || p.Path == "" {
			return fmt.Errorf("sync payload missing method or path")
		}
		if !s.Configured() {
			return ErrNoSyncEndpoint
		}

		_, err := s.operation(p)(ctx)
		if err == nil {
			s.log.Info("deferred sync replayed",
				zap.String("method", p.Method),
				zap.String("path", p.Path),
			)
		}
		return err
	}
}

// operation builds the HTTP call for a sync payload.
func (s *Sync) operation(p SyncPayload) resilience.Operation {
	return func(ctx context.Context) (interface{}, error) {
		req, err := s.http.R(ctx)
		if err != nil {
			return nil, err
		}
		if s.cfg.Token != "" {
			req.SetAuthToken(s.cfg.Token)
		}
		if len(p.Body) > 0 {
			req.SetHeader("Content-Type", "application/json").SetBody([]byte(p.Body))
		}

		resp, err := req.Execute(p.Method, s.cfg.Endpoint+p.Path)
		if err != nil {
			return nil, fmt.Errorf("sync %s %s: %w", p.Method, p.Path, err)
		}
		if err := httpx.CheckStatus(resp); err != nil {
			return nil, err
		}
		return resp.Body(), nil
	}
}

func docPath(name docs.Name) string {
	return "/v1/docs/" + name.String()
}
