package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"echo-backend/internal/models"

	"google.golang.org/genai"
)

const defaultTopicModel = "gemini-2.5-flash"

// GenerationError is any topic-generation failure: missing credentials,
// transport failure or unparseable model output. The coordinator catches
// it and substitutes the fallback topic.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("topic generation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("topic generation failed (%s)", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// GeminiTopicGenerator produces conversation topics with the Gemini API
type GeminiTopicGenerator struct {
	apiKey string
	model  string
}

// NewGeminiTopicGenerator creates a Gemini-backed topic generator
func NewGeminiTopicGenerator(apiKey, model string) *GeminiTopicGenerator {
	if model == "" {
		model = defaultTopicModel
	}
	return &GeminiTopicGenerator{apiKey: apiKey, model: model}
}

// Generate asks the model for a title and description based on both
// partners' temperature and notes
func (g *GeminiTopicGenerator) Generate(ctx context.Context, a, b PartnerMood) (models.AITopic, error) {
	if g.apiKey == "" {
		return models.AITopic{}, &GenerationError{Reason: "missing credentials"}
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return models.AITopic{}, &GenerationError{Reason: "client setup", Err: err}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(topicPrompt(a, b)), nil)
	if err != nil {
		return models.AITopic{}, &GenerationError{Reason: "request failed", Err: err}
	}

	topic, err := parseTopicJSON(result.Text())
	if err != nil {
		return models.AITopic{}, &GenerationError{Reason: "malformed output", Err: err}
	}
	return topic, nil
}

func topicPrompt(a, b PartnerMood) string {
	notes := func(n string) string {
		if n == "" {
			return "No notes"
		}
		return n
	}
	return fmt.Sprintf(`You are a thoughtful, low-key advisor for a couple. Your goal is to suggest a 15-minute connection point that feels like a natural conversation two adults would actually have.

DATA:
- Partner A (%s): %d/10. Notes: "%s"
- Partner B (%s): %d/10. Notes: "%s"

REQUIREMENTS:
1. ADULT TONE: Use mature, direct language. Avoid "perky" adjectives, exclamation points, and "announcing" the game.
2. PSYCHOLOGICAL SUBSTANCE:
- If moods are high: Focus on "Expansion." Ask questions about their evolving tastes, hidden opinions, or future "what-ifs" that reveal personality.
- If moods are low: Focus on "Co-Regulation." Suggest a low-energy way to decompress together without making it a "project."
- If mixed: Focus on "Attunement." Create a space for the stressed partner to feel seen without the other feeling pressured to fix it.
3. GOOFY BUT SMART: "Would you rather" or "goofy" questions should be thought-provoking, not childish.
4. CONSTRAINTS:
- Do NOT mention the word "score," "temperature," or the numerical values.
- Do NOT use buzzwords like "supercharge," "spark," or "journey."
- Maximum 3 sentences for the description.

Return JSON ONLY:
{
"title": "A concise, plain-language title",
"description": "A direct invitation or question for them to discuss."
}`,
		a.Name, a.Temperature, notes(a.Notes),
		b.Name, b.Temperature, notes(b.Notes))
}

// parseTopicJSON decodes the model's response, tolerating markdown code
// fences around the JSON object
func parseTopicJSON(text string) (models.AITopic, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var topic models.AITopic
	if err := json.Unmarshal([]byte(cleaned), &topic); err != nil {
		return models.AITopic{}, fmt.Errorf("failed to parse topic JSON: %w", err)
	}
	if topic.Title == "" || topic.Description == "" {
		return models.AITopic{}, fmt.Errorf("topic JSON missing title or description")
	}
	topic.TimerNotified = false
	return topic, nil
}
