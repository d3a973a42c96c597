package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/voicedesk/voicedesk/domain/repositories"
)

const (
	defaultModel       = "gemini-2.0-flash"
	defaultTemperature = 0.1
)

const systemPrompt = `You translate short spoken desktop commands into structured actions.
Respond with a single JSON object and nothing else:
{"action_type": "app|file|window|media|system",
 "operation": "<verb>",
 "parameters": {"<key>": "<value>"},
 "requires_confirmation": <true for destructive operations>}
Mark any deletion or irreversible change with requires_confirmation=true.
Use the recent commands for pronoun and context resolution.`

// GeminiInterpreter implements Interpreter on the Gemini API with one-shot
// JSON output.
type GeminiInterpreter struct {
	client *genai.Client
	logger *zap.Logger
	model  string
}

// NewGeminiInterpreter creates a Gemini-backed interpreter. The API key
// comes from the GEMINI_API_KEY environment variable.
func NewGeminiInterpreter(logger *zap.Logger) (*GeminiInterpreter, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiInterpreter{
		client: client,
		logger: logger,
		model:  defaultModel,
	}, nil
}

// Interpret maps one transcript to a structured action. Transport-level
// failures surface as ErrInterpreterUnavailable so the caller's bounded
// retry can ride them out; a malformed model reply is final.
func (g *GeminiInterpreter) Interpret(ctx context.Context, transcript string, recentHistory []string) (repositories.ActionInterpretation, error) {
	prompt := systemPrompt
	if len(recentHistory) > 0 {
		prompt += "\n\nRecent commands:\n- " + strings.Join(recentHistory, "\n- ")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
		genai.NewContentFromText("Command: "+transcript, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(defaultTemperature)),
		ResponseMIMEType: "application/json",
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		g.logger.Warn("Gemini request failed", zap.Error(err))
		return repositories.ActionInterpretation{},
			fmt.Errorf("%w: %v", repositories.ErrInterpreterUnavailable, err)
	}

	if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return repositories.ActionInterpretation{}, fmt.Errorf("no content generated")
	}

	var text string
	for _, part := range response.Candidates[0].Content.Parts {
		text += part.Text
	}

	var action repositories.ActionInterpretation
	if err := json.Unmarshal([]byte(text), &action); err != nil {
		g.logger.Error("Gemini returned unparseable action",
			zap.String("response", text), zap.Error(err))
		return repositories.ActionInterpretation{}, fmt.Errorf("failed to parse action: %w", err)
	}
	if action.Operation == "" {
		return repositories.ActionInterpretation{}, fmt.Errorf("action missing operation")
	}

	g.logger.Info("Command interpreted",
		zap.String("transcript", transcript),
		zap.String("actionType", action.ActionType),
		zap.String("operation", action.Operation))
	return action, nil
}
