package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/sonatahq/sonata/pkg/models"
)

// LanguageConfig configures the Anthropic-backed language service.
type LanguageConfig struct {
	// ServiceID is the directory id; defaults to "anthropic-language".
	ServiceID string
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens bounds the response length per request.
	MaxTokens int64
}

// LanguageService serves the language task family (text generation,
// summarization, pattern recognition) through the Anthropic API.
type LanguageService struct {
	id        string
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewLanguageService creates the language backend. Without Bedrock an API
// key is required, from config or ANTHROPIC_API_KEY.
func NewLanguageService(cfg LanguageConfig) (*LanguageService, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	id := cfg.ServiceID
	if id == "" {
		id = "anthropic-language"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &LanguageService{
		id:        id,
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format (us.anthropic.{model}-v1:0).
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219: "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	// Might already be Bedrock format or a custom model.
	return model
}

// ID implements Service.
func (s *LanguageService) ID() string { return s.id }

// GetCapabilities implements CapabilityProvider.
func (s *LanguageService) GetCapabilities() []models.ModelCapability {
	return []models.ModelCapability{
		{
			TaskType:       "text-generation",
			Confidence:     0.9,
			AverageLatency: 2 * time.Second,
		},
		{
			TaskType:       "summarization",
			Confidence:     0.85,
			AverageLatency: 2 * time.Second,
		},
		{
			TaskType:       "pattern-recognition",
			Confidence:     0.7,
			AverageLatency: 3 * time.Second,
		},
	}
}

// ExecuteTask implements Service. The prompt is built from the task payload
// and type; API errors are returned to the caller for fallback handling.
func (s *LanguageService) ExecuteTask(ctx context.Context, task models.Task) (models.TaskResult, error) {
	started := time.Now()

	prompt, err := buildPrompt(task)
	if err != nil {
		return models.FailureResult(task.ID, err, s.id, started), nil
	}

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return models.TaskResult{}, fmt.Errorf("anthropic API call: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	payload := map[string]any{
		"text":          text.String(),
		"model":         string(s.model),
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}
	return models.SuccessResult(task.ID, payload, s.id, started), nil
}

// buildPrompt assembles the model prompt from the task payload. The
// payload's "prompt" key wins; otherwise "text"/"content" is wrapped in a
// per-task-type instruction.
func buildPrompt(task models.Task) (string, error) {
	if p, ok := task.Payload["prompt"].(string); ok && p != "" {
		return p, nil
	}

	input, ok := task.Payload["text"].(string)
	if !ok {
		input, ok = task.Payload["content"].(string)
	}
	if !ok || input == "" {
		return "", fmt.Errorf("payload carries no prompt, text, or content for task type %q", task.Type)
	}

	switch task.Type {
	case "summarization":
		return "Summarize the following content concisely:\n\n" + input, nil
	case "pattern-recognition":
		return "Identify recurring patterns and notable structure in the following data. Report each pattern with a short description:\n\n" + input, nil
	default:
		return input, nil
	}
}
