package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"demo-reel-pipeline/config"
	"demo-reel-pipeline/types"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// reply is the structured answer requested from the model
type reply struct {
	Score  float64  `json:"score" jsonschema_description:"Overall quality from 0 (unusable) to 10 (ship it)"`
	Issues []string `json:"issues" jsonschema_description:"Concrete problems seen in the beat"`
	Fixes  []string `json:"fixes" jsonschema_description:"Actionable changes for the next recording attempt"`
}

func generateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var replySchema = generateSchema[reply]()

const systemPrompt = `You are a demanding video editor reviewing one beat of a product demo reel for a disaster response dashboard.
You receive a JSON description of the recorded beat: its narration, expected length, how it was captured,
whether the capture fell back or degraded, and the final file's length and size.
Score the beat from 0 to 10. A still screenshot where a live recording was expected, a beat much shorter or longer
than expected, silent narration or a degraded capture should all lower the score.
List the issues you see and the fixes that would make the next attempt better.`

// LLM asks a chat-completion model to score the beat
type LLM struct {
	client    openai.Client
	model     string
	temp      float64
	threshold float64
	logger    *zap.Logger
}

// NewLLM creates an LLM critic; cfg.BaseURL points it at any OpenAI-compatible API
func NewLLM(cfg config.CriticConfig, apiKey string, logger *zap.Logger) *LLM {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &LLM{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		temp:      cfg.Temperature,
		threshold: cfg.Threshold,
		logger:    logger,
	}
}

func (c *LLM) Name() string { return "llm:" + c.model }

func (c *LLM) Score(ctx context.Context, d Description) (types.Verdict, error) {
	payload, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return types.Verdict{}, fmt.Errorf("marshal description: %w", err)
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "beat_review",
		Description: openai.String("Score and feedback for one demo beat"),
		Schema:      replySchema,
		Strict:      openai.Bool(true),
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(string(payload)),
		},
		Model:       openai.ChatModel(c.model),
		Temperature: openai.Float(c.temp),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		return types.Verdict{}, fmt.Errorf("critic request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return types.Verdict{}, fmt.Errorf("%w: no choices", ErrNoScore)
	}

	content := completion.Choices[0].Message.Content
	c.logger.Debug("critic reply", zap.String("segment", d.Segment), zap.String("content", content))

	r, err := parseReply(content)
	if err != nil {
		return types.Verdict{}, err
	}
	score := clamp(r.Score)
	return types.Verdict{
		Score:  score,
		Pass:   score >= c.threshold,
		Issues: r.Issues,
		Fixes:  r.Fixes,
		Critic: c.Name(),
	}, nil
}

var (
	scoreLabel = regexp.MustCompile(`(?i)score["']?\s*[:=]\s*(\d+(?:\.\d+)?)`)
	scoreOutOf = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10\b`)
)

// parseReply reads the JSON reply, falling back to "score: N" or "N/10" in free text
func parseReply(content string) (reply, error) {
	var raw struct {
		Score  *float64 `json:"score"`
		Issues []string `json:"issues"`
		Fixes  []string `json:"fixes"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(content)), &raw); err == nil && raw.Score != nil {
		return reply{Score: *raw.Score, Issues: raw.Issues, Fixes: raw.Fixes}, nil
	}
	for _, re := range []*regexp.Regexp{scoreLabel, scoreOutOf} {
		if m := re.FindStringSubmatch(content); m != nil {
			score, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				return reply{Score: score}, nil
			}
		}
	}
	return reply{}, fmt.Errorf("%w: %q", ErrNoScore, types.Truncate(content, 120))
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
