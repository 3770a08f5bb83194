// Package ocrxopenai extracts receipt fields with an OpenAI vision model.
// The document is sent as an inline data URL and the model is asked for one
// JSON object; anything the model wraps around it is stripped before
// parsing.
package ocrxopenai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/Abraxas-365/recibo/pkg/receipt/ocrx"
)

const extractionPrompt = `Read this receipt and respond with exactly one JSON object:
{"text": "<full transcribed text>",
 "confidence": <0.0-1.0>,
 "vendor_name": "<merchant name or empty>",
 "total_amount": <number or 0>,
 "currency": "<ISO 4217 code or empty>",
 "date": "<YYYY-MM-DD or empty>"}
If the image is not a receipt or is unreadable, set confidence to 0.`

// Extractor implements ocrx.Extractor on the OpenAI chat API.
type Extractor struct {
	client openai.Client
	model  string
}

// NewExtractor creates an extractor. An empty model defaults to gpt-4o.
func NewExtractor(apiKey, model string, opts ...option.RequestOption) *Extractor {
	if model == "" {
		model = "gpt-4o"
	}
	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Extractor{client: openai.NewClient(options...), model: model}
}

func (e *Extractor) Extract(ctx context.Context, data []byte, contentType string) (*ocrx.Extraction, error) {
	if contentType == "" {
		contentType = "image/png"
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)

	parts := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(extractionPrompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}
	params := openai.ChatCompletionNewParams{
		Model:               e.model,
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(parts)},
		MaxCompletionTokens: openai.Int(2048),
	}

	completion, err := e.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, ocrx.ExtractionFailed(err)
	}
	if len(completion.Choices) == 0 {
		return nil, ocrx.ExtractionFailed(nil)
	}

	result, err := parseExtraction(completion.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if result.Confidence == 0 {
		return nil, ocrx.Unreadable("model reported zero confidence")
	}
	return result, nil
}

type rawExtraction struct {
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	VendorName  string  `json:"vendor_name"`
	TotalAmount float64 `json:"total_amount"`
	Currency    string  `json:"currency"`
	Date        string  `json:"date"`
}

func parseExtraction(content string) (*ocrx.Extraction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw rawExtraction
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, ocrx.ExtractionFailed(err)
	}

	out := &ocrx.Extraction{
		Text:        raw.Text,
		Confidence:  raw.Confidence,
		VendorName:  raw.VendorName,
		TotalAmount: raw.TotalAmount,
		Currency:    raw.Currency,
	}
	if raw.Date != "" {
		if d, err := time.Parse("2006-01-02", raw.Date); err == nil {
			out.Date = &d
		}
	}
	return out, nil
}

var _ ocrx.Extractor = (*Extractor)(nil)
