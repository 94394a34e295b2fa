// Package address parses free-text addresses through the libpostal
// expansion service and derives the query strings used for catalog
// search.
package address

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
)

// ErrParserUnavailable indicates the expansion service failed.
var ErrParserUnavailable = errors.New("address parser unavailable")

// Token is one labeled component, such as {road, "hauptstrasse"}.
type Token struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Parsed is an address after expansion.
type Parsed struct {
	// Raw is the text that was sent to the parser.
	Raw string
	// Data is the parser's normalized one-line form, or Raw on failure.
	Data   string
	Tokens []Token
	// Translated marks text produced by the translation round.
	Translated bool
}

// Label sets for query variants.
var (
	StreetLabels            = []string{"unit", "house", "house_number", "road"}
	StreetWithCountryLabels = []string{"unit", "house", "house_number", "road", "country"}
	NoHouseLabels           = []string{"road", "suburb", "city", "country"}
)

// Join returns the values of tokens whose label is in labels, in
// token order, joined with ", ".
func (p Parsed) Join(labels []string) string {
	want := make(map[string]bool, len(labels))
	for _, l := range labels {
		want[l] = true
	}
	var parts []string
	for _, t := range p.Tokens {
		if want[t.Label] && strings.TrimSpace(t.Value) != "" {
			parts = append(parts, t.Value)
		}
	}
	return strings.Join(parts, ", ")
}

// Street returns the street-only variant.
func (p Parsed) Street() string { return p.Join(StreetLabels) }

// StreetWithCountry returns the street variant with the country appended.
func (p Parsed) StreetWithCountry() string { return p.Join(StreetWithCountryLabels) }

// NoHouse returns the variant without unit and house number.
func (p Parsed) NoHouse() string { return p.Join(NoHouseLabels) }

// Config configures the parser client.
type Config struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Parser calls the expansion service.
type Parser struct {
	url    string
	client *http.Client
	logger *logging.Logger
}

// NewParser creates a parser client. An empty URL disables parsing and
// every address degrades to its raw form.
func NewParser(cfg Config, logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Parser{
		url:    strings.TrimRight(cfg.URL, "/"),
		client: client,
		logger: logger.Named("address"),
	}
}

type expandRequest struct {
	Query string `json:"query"`
}

type expandEntry struct {
	Type   string  `json:"type"`
	Data   string  `json:"data"`
	Parsed []Token `json:"parsed"`
}

// Parse expands raw. It never fails: on any parser error the result is
// {Data: raw} with no tokens.
func (p *Parser) Parse(ctx context.Context, raw string) Parsed {
	parsed, err := p.Expand(ctx, raw)
	if err != nil {
		p.logger.Warn(ctx, "address parser failed, using raw address", zap.Error(err))
		return Parsed{Raw: raw, Data: raw}
	}
	return parsed
}

// Expand calls the service and returns its expansion entry.
func (p *Parser) Expand(ctx context.Context, raw string) (Parsed, error) {
	if p.url == "" {
		return Parsed{}, fmt.Errorf("%w: no parser url configured", ErrParserUnavailable)
	}
	body, err := json.Marshal(expandRequest{Query: raw})
	if err != nil {
		return Parsed{}, fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/expandparser", bytes.NewReader(body))
	if err != nil {
		return Parsed{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Parsed{}, fmt.Errorf("%w: %v", ErrParserUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Parsed{}, fmt.Errorf("%w: status %d: %s", ErrParserUnavailable, resp.StatusCode, string(msg))
	}

	var entries []expandEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return Parsed{}, fmt.Errorf("%w: decoding response: %v", ErrParserUnavailable, err)
	}
	if len(entries) == 0 {
		return Parsed{}, fmt.Errorf("%w: empty response", ErrParserUnavailable)
	}

	entry := entries[0]
	for _, e := range entries {
		if e.Type == "expansion" {
			entry = e
			break
		}
	}
	data := entry.Data
	if strings.TrimSpace(data) == "" {
		data = raw
	}
	return Parsed{Raw: raw, Data: data, Tokens: entry.Parsed}, nil
}
