package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/pupscan/pupscan-backend/internal/domain"
	"github.com/pupscan/pupscan-backend/internal/platform/envutil"
	"github.com/pupscan/pupscan-backend/internal/platform/logger"
)

// Identification is the deep identifier's structured verdict for one image.
// Confidence values are percentages.
type Identification struct {
	Category     Category
	Breed        string
	Confidence   float64
	Alternatives []BreedScore
	Description  string
	Origin       json.RawMessage
	HealthRisks  json.RawMessage
}

type BreedScore struct {
	Breed      string  `json:"breed"`
	Confidence float64 `json:"confidence"`
}

// Category of the primary breed call. Exactly one applies; when the model
// flags several, the fixed priority order below wins.
type Category string

const (
	CategoryNativeLandrace Category = "native_landrace"
	CategoryDesignerHybrid Category = "designer_hybrid"
	CategoryPurebred       Category = "purebred"
	CategoryTwoBreedMix    Category = "two_breed_mix"
)

type Client interface {
	// DetectDog is the binary pre-classification gate.
	DetectDog(ctx context.Context, image []byte) (bool, error)

	// IdentifyBreed runs the full identification. hint carries the local
	// classifier's tiered framing; empty means unguided.
	IdentifyBreed(ctx context.Context, image []byte, hint string) (*Identification, error)

	// GenerateAgedImage renders one age variant from the source photo and a
	// breed-aware prompt. Returns PNG/JPEG bytes.
	GenerateAgedImage(ctx context.Context, image []byte, prompt string) ([]byte, error)
}

type client struct {
	log        *logger.Logger
	api        *goopenai.Client
	model      string
	imageModel string
	imageSize  string
}

func New(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}

	return &client{
		log:        log.With("client", "OpenAIClient"),
		api:        goopenai.NewClientWithConfig(cfg),
		model:      envutil.String("OPENAI_MODEL", "gpt-4o"),
		imageModel: envutil.String("OPENAI_IMAGE_MODEL", "gpt-image-1"),
		imageSize:  envutil.String("OPENAI_IMAGE_SIZE", "1024x1024"),
	}, nil
}

const detectDogPrompt = `Look at this photo and answer with a single word: YES if the photo contains a dog, NO otherwise. Puppies count as dogs. Wolves, foxes, cats and other animals do not.`

func (c *client) DetectDog(ctx context.Context, image []byte) (bool, error) {
	text, err := c.visionText(ctx, image, "", detectDogPrompt, goopenai.ImageURLDetailLow)
	if err != nil {
		return false, err
	}
	answer := strings.ToUpper(strings.TrimSpace(text))
	return strings.HasPrefix(answer, "YES"), nil
}

const identifySystemPrompt = `You are an expert canine geneticist identifying dog breeds from photos. Respond with a single JSON object and nothing else, using this shape:
{
  "breed": "<primary breed name>",
  "confidence": <0-100>,
  "native_landrace": <true if this matches a native/regional landrace pattern by its physical traits>,
  "designer_hybrid": <true if this is a recognized named designer cross, e.g. Labradoodle>,
  "purebred": <true if a single purebred>,
  "alternatives": [{"breed": "<name>", "confidence": <0-100>}],
  "description": "<2-3 sentence description of this dog>",
  "origin": {"region": "<origin region>", "history": "<1-2 sentences>"},
  "health_risks": {"risks": ["<known breed-level health risk>"]}
}
Check for a native/landrace pattern first, then a named designer cross, then a single purebred; if none apply, treat the dog as an unnamed mix of its two most likely parent breeds. List up to 5 alternatives, most likely first.`

func (c *client) IdentifyBreed(ctx context.Context, image []byte, hint string) (*Identification, error) {
	user := "Identify this dog's breed."
	if strings.TrimSpace(hint) != "" {
		user = user + "\n\n" + strings.TrimSpace(hint)
	}
	text, err := c.visionText(ctx, image, identifySystemPrompt, user, goopenai.ImageURLDetailHigh)
	if err != nil {
		return nil, err
	}
	ident, err := parseIdentification(text)
	if err != nil {
		return nil, &domain.ParseError{Err: err}
	}
	return ident, nil
}

func (c *client) visionText(ctx context.Context, image []byte, system, user string, detail goopenai.ImageURLDetail) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role: goopenai.ChatMessageRoleUser,
		MultiContent: []goopenai.ChatMessagePart{
			{Type: goopenai.ChatMessagePartTypeText, Text: user},
			{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    dataURL(image),
					Detail: detail,
				},
			},
		},
	})

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", mapAPIErr("identifier", err)
	}
	if len(resp.Choices) == 0 {
		return "", &domain.ParseError{Err: errors.New("identifier returned no choices")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *client) GenerateAgedImage(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	resp, err := c.api.CreateEditImage(ctx, goopenai.ImageEditRequest{
		Image:  goopenai.WrapReader(bytes.NewReader(image), "scan.jpg", "image/jpeg"),
		Prompt: prompt,
		Model:  c.imageModel,
		N:      1,
		Size:   c.imageSize,
	})
	if err != nil {
		return nil, mapAPIErr("image generation", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &domain.ExternalServiceError{
			Service: "image generation",
			Reason:  domain.FailureUnavailable,
			Err:     errors.New("empty image response"),
		}
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &domain.ParseError{Err: fmt.Errorf("decode generated image: %w", err)}
	}
	return raw, nil
}

func dataURL(image []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
}

func mapAPIErr(service string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		reason := domain.FailureUnavailable
		switch {
		case apiErr.HTTPStatusCode == 429:
			reason = domain.FailureQuota
		case strings.Contains(strings.ToLower(apiErr.Type), "content") ||
			strings.Contains(strings.ToLower(fmt.Sprint(apiErr.Code)), "content_policy"):
			reason = domain.FailureBlocked
		}
		return &domain.ExternalServiceError{Service: service, Reason: reason, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &domain.ExternalServiceError{Service: service, Reason: domain.FailureNetwork, Err: err}
	}
	return &domain.ExternalServiceError{Service: service, Reason: domain.FailureUnavailable, Err: err}
}
