package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
)

// FallbackModels maps the logical chat model names used by the resolver
// to the deployments provisioned on the secondary resource.
var FallbackModels = map[string]string{
	"gpt-4o":         "gpt-4o-order-vision-3",
	"gpt-4o-test":    "gpt-4o-order-vision",
	"gpt-4o-2":       "gpt-4o-order-vision-3",
	"gpt-4o-test-2":  "gpt-4o-order-vision",
	"gpt-4o-3":       "gpt-4o-order-vision-3",
	"gpt-4o-test-3":  "gpt-4o-order-vision",
	"o3-mini":        "o3-mini-order-vision-3",
	"o3-mini-test":   "o3-mini-order-vision",
	"o3-mini-2":      "o3-mini-order-vision-2",
	"o3-mini-test-2": "o3-mini-order-vision",
	"o3-mini-3":      "o3-mini-order-vision-3",
	"o3-mini-test-3": "o3-mini-order-vision",
}

// ChatRequest is a provider-neutral chat completion request. Model is
// the logical name; each endpoint maps it to a deployment.
type ChatRequest struct {
	Model           string
	Messages        []openai.ChatCompletionMessage
	JSON            bool
	ReasoningEffort string
}

// Endpoint is one Azure OpenAI resource serving embeddings and chat.
type Endpoint struct {
	Name       string
	Resource   string
	APIVersion string

	embeddingDeployment string
	models              map[string]string
	client              *openai.Client
	limiter             *rate.Limiter
	timeout             time.Duration
}

// NewEndpoint builds an endpoint. httpClient may be nil.
func NewEndpoint(cfg config.EndpointConfig, httpClient *http.Client) (*Endpoint, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: endpoint name is required", ErrInvalidConfig)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.Resource == "" {
			return nil, fmt.Errorf("%w: endpoint %s needs resource or base_url", ErrInvalidConfig, cfg.Name)
		}
		baseURL = fmt.Sprintf("https://%s.openai.azure.com", cfg.Resource)
	}

	oc := openai.DefaultAzureConfig(cfg.Credential.Value(), strings.TrimRight(baseURL, "/"))
	oc.APIVersion = cfg.APIVersion
	// Deployment names are resolved here, not by the library's mapper,
	// which strips dots from model names.
	oc.AzureModelMapperFunc = func(model string) string { return model }
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}

	models := make(map[string]string, len(FallbackModels)+len(cfg.Models))
	if cfg.FallbackModels {
		for k, v := range FallbackModels {
			models[k] = v
		}
	}
	for k, v := range cfg.Models {
		models[k] = v
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Endpoint{
		Name:                cfg.Name,
		Resource:            cfg.Resource,
		APIVersion:          cfg.APIVersion,
		embeddingDeployment: cfg.EmbeddingDeployment,
		models:              models,
		client:              openai.NewClientWithConfig(oc),
		limiter:             rate.NewLimiter(limit, burst),
		timeout:             cfg.Timeout.Duration(),
	}, nil
}

// Deployment maps a logical model name to this endpoint's deployment.
// Unmapped names are used as-is.
func (e *Endpoint) Deployment(model string) string {
	if d, ok := e.models[model]; ok {
		return d
	}
	return model
}

func (e *Endpoint) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return ctx, func() {}, fmt.Errorf("rate limiter: %w", err)
	}
	if e.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// Embed returns the embedding of input.
func (e *Endpoint) Embed(ctx context.Context, input string) ([]float32, error) {
	ctx, cancel, err := e.begin(ctx)
	defer cancel()
	if err != nil {
		return nil, err
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{input},
		Model: openai.EmbeddingModel(e.embeddingDeployment),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: embedding: %w", e.Name, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%s: embedding: empty response", e.Name)
	}
	return resp.Data[0].Embedding, nil
}

// Complete runs a chat completion and returns the first choice's content.
func (e *Endpoint) Complete(ctx context.Context, req ChatRequest) (string, error) {
	ctx, cancel, err := e.begin(ctx)
	defer cancel()
	if err != nil {
		return "", err
	}

	creq := openai.ChatCompletionRequest{
		Model:           e.Deployment(req.Model),
		Messages:        req.Messages,
		ReasoningEffort: req.ReasoningEffort,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("%s: chat %s: %w", e.Name, creq.Model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: chat %s: no choices", e.Name, creq.Model)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
