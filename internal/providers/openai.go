package providers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"storyloom/internal/config"
)

const (
	OpenAIName = "openai"

	openAIDefaultSpeechModel = "gpt-4o-mini-tts"
	openAIDefaultVoice       = "alloy"
	openAIDefaultChatModel   = "gpt-4o-mini"
	openAIDefaultImageModel  = "gpt-image-1"
	openAIDefaultImageSize   = "1024x1024"
	sceneMaxTokens           = 300
)

// OpenAIConfig holds configuration for the OpenAI generation client.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // Optional (tests)
	SpeechModel string
	Voice       string
	AudioFormat string
	ChatModel   string
	ScenePrompt string
	ImageModel  string
	ImageSize   string
	ImageStyle  string
	// RequestsPerSecond caps calls across all three capabilities.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client // Optional (tests)
}

// OpenAIConfigFrom maps the [openai] and [pipeline] sections.
func OpenAIConfigFrom(cfg *config.Config) OpenAIConfig {
	return OpenAIConfig{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		SpeechModel:       cfg.OpenAI.SpeechModel,
		Voice:             cfg.OpenAI.Voice,
		AudioFormat:       cfg.OpenAI.AudioFormat,
		ChatModel:         cfg.OpenAI.ChatModel,
		ScenePrompt:       cfg.Pipeline.ScenePrompt,
		ImageModel:        cfg.OpenAI.ImageModel,
		ImageSize:         cfg.OpenAI.ImageSize,
		ImageStyle:        cfg.Pipeline.ImageStyle,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		Timeout:           cfg.CallTimeout(),
	}
}

// OpenAIClient implements Narrator, SceneDescriber and Illustrator with the
// official OpenAI SDK. SDK-level retries are disabled; callers retry through
// the retry package.
type OpenAIClient struct {
	cfg        OpenAIConfig
	client     openai.Client
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = openAIDefaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = openAIDefaultVoice
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openAIDefaultChatModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = openAIDefaultImageModel
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = openAIDefaultImageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &OpenAIClient{
		cfg:        cfg,
		client:     openai.NewClient(opts...),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// HealthCheck verifies the API is reachable and the key is accepted.
func (c *OpenAIClient) HealthCheck(ctx context.Context) error {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return fmt.Errorf("openai models list failed: %w", mapOpenAIError(err))
	}
	if page == nil {
		return errors.New("openai models list returned nil response")
	}
	return nil
}

// Narrate synthesizes speech for text.
func (c *OpenAIClient) Narrate(ctx context.Context, text string) (*Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("narration text is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	format := normalizeOpenAIFormat(c.cfg.AudioFormat)
	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(c.cfg.SpeechModel),
		Voice:          openai.AudioSpeechNewParamsVoice(c.cfg.Voice),
		ResponseFormat: format,
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openai audio response: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("openai returned empty audio")
	}
	return &Audio{Data: data, Format: string(format)}, nil
}

// DescribeScene asks the chat model for an illustrator-facing description.
func (c *OpenAIClient) DescribeScene(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("scene text is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt := strings.TrimSpace(c.cfg.ScenePrompt); prompt != "" {
		messages = append(messages, openai.SystemMessage(prompt))
	}
	messages = append(messages, openai.UserMessage(text))

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.cfg.ChatModel),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(sceneMaxTokens),
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", errors.New("openai returned no scene description")
	}
	description := strings.TrimSpace(completion.Choices[0].Message.Content)
	if description == "" {
		return "", errors.New("openai returned an empty scene description")
	}
	return description, nil
}

// Illustrate renders the description, prefixed with the configured style.
func (c *OpenAIClient) Illustrate(ctx context.Context, description string) (*Image, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, errors.New("scene description is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	prompt := description
	if style := strings.TrimSpace(c.cfg.ImageStyle); style != "" {
		prompt = style + "\n\n" + description
	}
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(c.cfg.ImageModel),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(c.cfg.ImageSize),
	}
	// gpt-image models always answer base64 and reject response_format.
	if strings.HasPrefix(strings.ToLower(c.cfg.ImageModel), "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	resp, err := c.client.Images.Generate(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, errors.New("openai returned no image")
	}
	first := resp.Data[0]
	if first.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(first.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("decode openai image: %w", err)
		}
		return &Image{Data: data, Format: "png"}, nil
	}
	if first.URL != "" {
		return c.download(ctx, first.URL)
	}
	return nil, errors.New("openai image response carried neither data nor url")
}

func (c *OpenAIClient) download(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build image download: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Provider: OpenAIName, StatusCode: resp.StatusCode, Message: "image download failed"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image download: %w", err)
	}
	return &Image{Data: data, Format: "png"}, nil
}

func normalizeOpenAIFormat(format string) openai.AudioSpeechNewParamsResponseFormat {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "opus":
		return openai.AudioSpeechNewParamsResponseFormatOpus
	case "aac":
		return openai.AudioSpeechNewParamsResponseFormatAAC
	case "flac":
		return openai.AudioSpeechNewParamsResponseFormatFLAC
	case "wav":
		return openai.AudioSpeechNewParamsResponseFormatWAV
	default:
		return openai.AudioSpeechNewParamsResponseFormatMP3
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			retryAfter := time.Duration(0)
			if apiErr.Response != nil {
				retryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			return &RateLimitError{
				Message:    fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message),
				RetryAfter: retryAfter,
				StatusCode: apiErr.StatusCode,
			}
		}
		return &HTTPError{Provider: "OpenAI", StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return err
}

var (
	_ Narrator       = (*OpenAIClient)(nil)
	_ SceneDescriber = (*OpenAIClient)(nil)
	_ Illustrator    = (*OpenAIClient)(nil)
)
