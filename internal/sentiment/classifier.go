package sentiment

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

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// DefaultLabel is returned whenever classification is not possible.
const DefaultLabel = "default"

// Defaults used when Config leaves a field empty.
const (
	DefaultBaseURL           = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel             = "gemini-1.5-flash"
	DefaultTimeout           = 10 * time.Second
	DefaultRequestsPerMinute = 60
)

// DefaultLabels is the label whitelist used when none is configured.
var DefaultLabels = []string{"happy", "sad", "angry", "fear", "surprise", "neutral", "default"}

// ErrDisabled is returned by Query when the classifier is not enabled.
var ErrDisabled = errors.New("sentiment classification disabled")

// Config configures a Classifier.
type Config struct {
	Enabled           bool
	BaseURL           string
	APIKey            string
	Model             string
	Labels            []string
	Timeout           time.Duration
	RequestsPerMinute int

	// CacheSize is how many classified texts are remembered. Zero uses
	// DefaultCacheSize; a negative value disables the cache.
	CacheSize int
}

// Classifier maps text to one of a fixed set of emotion labels.
type Classifier struct {
	baseURL string
	apiKey  string
	model   string
	labels  map[string]bool
	ordered []string
	timeout time.Duration
	enabled bool

	limiter    *rate.Limiter
	cache      *labelCache
	httpClient *http.Client
	logger     *log.Logger
}

// New returns a classifier. Without an API key the classifier is disabled
// and always answers DefaultLabel.
func New(config Config) *Classifier {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if len(config.Labels) == 0 {
		config.Labels = DefaultLabels
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRequestsPerMinute
	}

	labels := make(map[string]bool, len(config.Labels))
	ordered := make([]string, 0, len(config.Labels))
	for _, l := range config.Labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || labels[l] {
			continue
		}
		labels[l] = true
		ordered = append(ordered, l)
	}

	logger := log.WithPrefix("sentiment")
	enabled := config.Enabled && config.APIKey != ""
	if config.Enabled && !enabled {
		logger.Warn("Sentiment classification enabled but no API key configured, using default emotion")
	}

	var cache *labelCache
	switch {
	case config.CacheSize == 0:
		cache = newLabelCache(DefaultCacheSize)
	case config.CacheSize > 0:
		cache = newLabelCache(config.CacheSize)
	}

	return &Classifier{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		model:      config.Model,
		labels:     labels,
		ordered:    ordered,
		timeout:    config.Timeout,
		enabled:    enabled,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		cache:      cache,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

// Enabled reports whether the classifier calls out to the model.
func (c *Classifier) Enabled() bool {
	return c.enabled
}

// Labels returns the label whitelist in configured order.
func (c *Classifier) Labels() []string {
	return append([]string(nil), c.ordered...)
}

// CacheStats returns label cache usage. It is zero when the cache is off.
func (c *Classifier) CacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.snapshot()
}

// Classify returns a whitelisted label for text, or DefaultLabel on any
// failure. Only successful classifications are cached.
func (c *Classifier) Classify(ctx context.Context, text string) string {
	if !c.enabled {
		return DefaultLabel
	}
	if c.cache != nil {
		if label, ok := c.cache.get(text); ok {
			c.logger.Debug("Sentiment cache hit", "label", label)
			return label
		}
	}

	raw, err := c.Query(ctx, text)
	if err != nil {
		c.logger.Warn("Sentiment classification failed, using default emotion", "error", err)
		return DefaultLabel
	}

	label := Clean(raw)
	if !c.labels[label] {
		c.logger.Warn("Model answered a label outside the whitelist, using default emotion", "label", label)
		return DefaultLabel
	}
	c.logger.Debug("Sentiment classified", "label", label)
	if c.cache != nil {
		c.cache.put(text, label)
	}
	return label
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Query sends one chat completion request and returns the raw reply.
func (c *Classifier) Query(ctx context.Context, text string) (string, error) {
	if !c.enabled {
		return "", ErrDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: c.prompt(text)}},
		Temperature: 0.3,
		MaxTokens:   10,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Classifier) prompt(text string) string {
	quoted := make([]string, len(c.ordered))
	for i, l := range c.ordered {
		quoted[i] = "'" + l + "'"
	}
	return fmt.Sprintf(`You are a sentiment analysis assistant. Classify the emotion of the text below and answer with exactly one label from this list: [%s].

Rules:
1. Answer with the label word only, no markdown, punctuation or explanation.
2. The label must come from the list.
3. If you cannot decide, answer 'neutral'.

Text: %s`, strings.Join(quoted, ", "), text)
}

// Clean normalizes a model reply: lower case, no quotes, no periods.
func Clean(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("'", "", `"`, "", ".", "", "`", "").Replace(s)
	return strings.TrimSpace(s)
}
