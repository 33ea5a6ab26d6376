// Package grader calls the external vision grading service: quiz image
// and answer photo in, score with annotations out.
package grader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snapgrade/snapgrade/internal/model"
)

// Request is one grading call.
type Request struct {
	// QuestionImage is the path to the active quiz image.
	QuestionImage string
	// AnswerImage is the path to the downloaded student photo.
	AnswerImage string
	// MaxScore is the denominator for this submission.
	MaxScore int
	// TotalQuestions, when positive, asks the grader to also detect which
	// question numbers the photo answers.
	TotalQuestions int
}

// Result is the grader's structured verdict.
type Result struct {
	Score           int                `json:"score"`
	Annotations     []model.Annotation `json:"annotations"`
	QuestionNumbers []int              `json:"question_numbers,omitempty"`
	Feedback        string             `json:"feedback,omitempty"`
}

// Service grades one photographed answer. Implementations may be slow;
// callers must not hold dispatch paths while waiting.
type Service interface {
	Grade(ctx context.Context, req Request) (*Result, error)
}

// Client is the default Service over an OpenAI-compatible vision API.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a grading client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the API endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Grade sends the quiz image and the student's photo to the vision model
// and parses the structured verdict.
func (c *Client) Grade(ctx context.Context, req Request) (*Result, error) {
	questionURL, err := imageDataURL(req.QuestionImage)
	if err != nil {
		return nil, fmt.Errorf("read question image: %w", err)
	}
	answerURL, err := imageDataURL(req.AnswerImage)
	if err != nil {
		return nil, fmt.Errorf("read answer image: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: buildSystemPrompt(req.MaxScore, req.TotalQuestions),
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: "QUIZ (the questions being answered):"},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: questionURL, Detail: openai.ImageURLDetailHigh}},
					{Type: openai.ChatMessagePartTypeText, Text: "STUDENT ANSWER (grade this):"},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: answerURL, Detail: openai.ImageURLDetailHigh}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("grading API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("grader returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("grader response", "raw", raw)

	result, err := parseResult(raw)
	if err != nil {
		return nil, fmt.Errorf("parse grading response: %w", err)
	}
	return result, nil
}

// wireResult tolerates fractional scores from the model; they are rounded
// before anything downstream sees them.
type wireResult struct {
	Score           float64            `json:"score"`
	Annotations     []model.Annotation `json:"annotations"`
	QuestionNumbers []int              `json:"question_numbers"`
	Feedback        string             `json:"feedback"`
}

func parseResult(raw string) (*Result, error) {
	var w wireResult
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("%w (raw: %s)", err, raw)
	}
	return &Result{
		Score:           int(math.Round(w.Score)),
		Annotations:     w.Annotations,
		QuestionNumbers: w.QuestionNumbers,
		Feedback:        w.Feedback,
	}, nil
}

func buildSystemPrompt(maxScore, totalQuestions int) string {
	var sb strings.Builder
	sb.WriteString("You are a meticulous, consistent exam grader. You receive two photos: ")
	sb.WriteString("the quiz being answered and a student's handwritten answer.\n\n")
	sb.WriteString(fmt.Sprintf("MAX SCORE: %d\n\n", maxScore))

	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Read the quiz photo first to understand exactly what is being asked.\n")
	sb.WriteString("- Compare the student's answer against the quiz carefully before judging it.\n")
	sb.WriteString("- Accept answers that are correct in substance even when phrased differently.\n")
	sb.WriteString("- Transcribe annotated fragments exactly as written, including spelling mistakes; never include the question number in the transcription.\n")
	if totalQuestions > 0 {
		sb.WriteString(fmt.Sprintf("- The exam has %d questions. Detect which question number(s) this photo answers and report them in question_numbers. Leave the list empty if unsure.\n", totalQuestions))
	}

	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(fmt.Sprintf(`{"score": <number 0 to %d>, "feedback": "<brief feedback>", "annotations": [{"text": "<exact transcription>", "label": "correct|mistake|partial|unclear"}]`, maxScore))
	if totalQuestions > 0 {
		sb.WriteString(`, "question_numbers": [<detected question numbers>]`)
	}
	sb.WriteString("}\n")

	return sb.String()
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/jpeg"
	if strings.EqualFold(filepath.Ext(path), ".png") {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
