// Package config loads ordermatch configuration from a YAML file and
// ORDERMATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the complete service configuration. The logging and
// telemetry sections are decoded by their owning packages through
// Decode, since those packages depend on this one.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Providers     ProvidersConfig     `koanf:"providers"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	AddressParser AddressParserConfig `koanf:"address_parser"`
	Translate     TranslateConfig     `koanf:"translate"`
	Events        EventsConfig        `koanf:"events"`
	Partners      PartnersConfig      `koanf:"partners"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`

	k *koanf.Koanf
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	BodyLimit       string   `koanf:"body_limit"`
}

// ProvidersConfig lists the raced model endpoints.
type ProvidersConfig struct {
	ProbeInput     string           `koanf:"probe_input"`
	EmbeddingModel string           `koanf:"embedding_model"`
	Dimensions     int              `koanf:"dimensions"`
	Endpoints      []EndpointConfig `koanf:"endpoints"`
}

// EndpointConfig describes one Azure OpenAI resource.
type EndpointConfig struct {
	Name       string `koanf:"name"`
	Resource   string `koanf:"resource"`
	BaseURL    string `koanf:"base_url"`
	APIVersion string `koanf:"api_version"`
	Credential Secret `koanf:"credential"`
	// EmbeddingDeployment is the deployment serving EmbeddingModel.
	EmbeddingDeployment string `koanf:"embedding_deployment"`
	// Models maps logical chat model names to this resource's
	// deployments. FallbackModels seeds it with the secondary-resource
	// deployment table.
	Models            map[string]string `koanf:"models"`
	FallbackModels    bool              `koanf:"fallback_models"`
	RequestsPerSecond float64           `koanf:"requests_per_second"`
	Burst             int               `koanf:"burst"`
	Timeout           Duration          `koanf:"timeout"`
}

// EmbeddingsConfig selects the embedding backend and its cache.
type EmbeddingsConfig struct {
	// Backend is "race" (the provider endpoints) or "tei".
	Backend  string      `koanf:"backend"`
	TEIURL   string      `koanf:"tei_url"`
	TEIModel string      `koanf:"tei_model"`
	Cache    CacheConfig `koanf:"cache"`
}

// CacheConfig configures the Redis embedding cache. An empty Addr
// disables caching.
type CacheConfig struct {
	Addr     string   `koanf:"addr"`
	Password Secret   `koanf:"password"`
	DB       int      `koanf:"db"`
	TTL      Duration `koanf:"ttl"`
	Prefix   string   `koanf:"prefix"`
}

// VectorStoreConfig selects the catalog index backend.
type VectorStoreConfig struct {
	Provider  string         `koanf:"provider"`
	Addresses IndexConfig    `koanf:"addresses"`
	Materials IndexConfig    `koanf:"materials"`
	Pinecone  PineconeConfig `koanf:"pinecone"`
	Qdrant    QdrantConfig   `koanf:"qdrant"`
	Chromem   ChromemConfig  `koanf:"chromem"`
}

// IndexConfig names one catalog. Index is the Pinecone index, Qdrant
// collection, or chromem collection; Namespace is Pinecone only.
type IndexConfig struct {
	Index     string `koanf:"index"`
	Namespace string `koanf:"namespace"`
}

type PineconeConfig struct {
	APIKey        Secret   `koanf:"api_key"`
	ControllerURL string   `koanf:"controller_url"`
	Timeout       Duration `koanf:"timeout"`
}

type QdrantConfig struct {
	Host                    string   `koanf:"host"`
	Port                    int      `koanf:"port"`
	UseTLS                  bool     `koanf:"use_tls"`
	MaxRetries              int      `koanf:"max_retries"`
	RetryBackoff            Duration `koanf:"retry_backoff"`
	CircuitBreakerThreshold int      `koanf:"circuit_breaker_threshold"`
}

type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// AddressParserConfig points at the libpostal expansion service.
type AddressParserConfig struct {
	URL     string   `koanf:"url"`
	Timeout Duration `koanf:"timeout"`
}

// TranslateConfig points at the translation service.
type TranslateConfig struct {
	URL               string   `koanf:"url"`
	APIKey            Secret   `koanf:"api_key"`
	TargetLanguage    string   `koanf:"target_language"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
}

// EventsConfig controls NATS processing events.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// PartnersConfig locates the partner-function table.
type PartnersConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// PipelineConfig tunes document resolution.
type PipelineConfig struct {
	// MaxConcurrency caps the line-item fan-out. Zero leaves it
	// unbounded, which can exhaust provider quotas on large invoices.
	MaxConcurrency int      `koanf:"max_concurrency"`
	MemoTimeout    Duration `koanf:"memo_timeout"`
	VendorNames    []string `koanf:"vendor_names"`
	FinalizerModel string   `koanf:"finalizer_model"`
	MaterialModel  string   `koanf:"material_model"`
	MemoModel      string   `koanf:"memo_model"`
	// StopAtDeclaration drops line items found after a customs
	// declaration page.
	StopAtDeclaration bool `koanf:"stop_at_declaration"`
}

// Decode unmarshals a raw section into out. It is used for sections
// owned by packages that import config.
func (c *Config) Decode(section string, out interface{}) error {
	if c.k == nil || !c.k.Exists(section) {
		return nil
	}
	if err := c.k.Unmarshal(section, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", section, err)
	}
	return nil
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Providers.Dimensions <= 0 {
		errs = append(errs, errors.New("providers.dimensions must be > 0"))
	}
	if c.Embeddings.Backend == "race" && len(c.Providers.Endpoints) < 2 {
		errs = append(errs, fmt.Errorf("providers.endpoints: race needs at least 2 endpoints, got %d", len(c.Providers.Endpoints)))
	}
	seen := map[string]bool{}
	for i, ep := range c.Providers.Endpoints {
		if ep.Name == "" {
			errs = append(errs, fmt.Errorf("providers.endpoints[%d]: name is required", i))
		} else if seen[ep.Name] {
			errs = append(errs, fmt.Errorf("providers.endpoints[%d]: duplicate name %q", i, ep.Name))
		}
		seen[ep.Name] = true
		if ep.Resource == "" && ep.BaseURL == "" {
			errs = append(errs, fmt.Errorf("providers.endpoints[%d]: resource or base_url is required", i))
		}
	}
	switch c.Embeddings.Backend {
	case "race":
	case "tei":
		if _, err := url.ParseRequestURI(c.Embeddings.TEIURL); err != nil {
			errs = append(errs, fmt.Errorf("embeddings.tei_url: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("embeddings.backend must be race or tei, got %q", c.Embeddings.Backend))
	}
	switch c.VectorStore.Provider {
	case "pinecone", "qdrant", "chromem":
	default:
		errs = append(errs, fmt.Errorf("vectorstore.provider must be pinecone, qdrant or chromem, got %q", c.VectorStore.Provider))
	}
	if c.VectorStore.Addresses.Index == "" || c.VectorStore.Materials.Index == "" {
		errs = append(errs, errors.New("vectorstore.addresses.index and vectorstore.materials.index are required"))
	}
	if c.Pipeline.MaxConcurrency < 0 {
		errs = append(errs, errors.New("pipeline.max_concurrency must be >= 0"))
	}
	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}
	return errors.Join(errs...)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.BodyLimit == "" {
		cfg.Server.BodyLimit = "8M"
	}

	if cfg.Providers.ProbeInput == "" {
		cfg.Providers.ProbeInput = "test embedding for race condition"
	}
	if cfg.Providers.EmbeddingModel == "" {
		cfg.Providers.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Providers.Dimensions == 0 {
		cfg.Providers.Dimensions = 1536
	}
	for i := range cfg.Providers.Endpoints {
		ep := &cfg.Providers.Endpoints[i]
		if ep.APIVersion == "" {
			ep.APIVersion = "2024-12-01-preview"
		}
		if ep.EmbeddingDeployment == "" {
			ep.EmbeddingDeployment = cfg.Providers.EmbeddingModel
		}
		if ep.Timeout == 0 {
			ep.Timeout = Duration(2 * time.Minute)
		}
		if ep.Burst == 0 {
			ep.Burst = 1
		}
	}

	if cfg.Embeddings.Backend == "" {
		cfg.Embeddings.Backend = "race"
	}
	if cfg.Embeddings.Cache.TTL == 0 {
		cfg.Embeddings.Cache.TTL = Duration(24 * time.Hour)
	}
	if cfg.Embeddings.Cache.Prefix == "" {
		cfg.Embeddings.Cache.Prefix = "ordermatch:emb:"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "pinecone"
	}
	if cfg.VectorStore.Pinecone.ControllerURL == "" {
		cfg.VectorStore.Pinecone.ControllerURL = "https://api.pinecone.io"
	}
	if cfg.VectorStore.Pinecone.Timeout == 0 {
		cfg.VectorStore.Pinecone.Timeout = Duration(30 * time.Second)
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "./data/catalog"
	}

	if cfg.AddressParser.Timeout == 0 {
		cfg.AddressParser.Timeout = Duration(15 * time.Second)
	}
	if cfg.Translate.TargetLanguage == "" {
		cfg.Translate.TargetLanguage = "en"
	}
	if cfg.Translate.Timeout == 0 {
		cfg.Translate.Timeout = Duration(15 * time.Second)
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "ordermatch"
	}

	if cfg.Pipeline.MemoTimeout == 0 {
		cfg.Pipeline.MemoTimeout = Duration(45 * time.Second)
	}
	if len(cfg.Pipeline.VendorNames) == 0 {
		cfg.Pipeline.VendorNames = []string{"bio-rad", "bio rad", "biorad", "bio - rad"}
	}
	if cfg.Pipeline.FinalizerModel == "" {
		cfg.Pipeline.FinalizerModel = "o3-mini-3"
	}
	if cfg.Pipeline.MaterialModel == "" {
		cfg.Pipeline.MaterialModel = "o3-mini-2"
	}
	if cfg.Pipeline.MemoModel == "" {
		cfg.Pipeline.MemoModel = "gpt-4o-3"
	}
}
