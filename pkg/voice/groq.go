// Package voice wraps the Groq-hosted Whisper transcription endpoint used
// to turn inbound voice notes into text before they reach the agent loop.
package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arjunmehta/relay/pkg/logger"
	"github.com/arjunmehta/relay/pkg/utils"
)

const (
	defaultGroqAPIBase = "https://api.groq.com/openai/v1"
	transcribeModel    = "whisper-large-v3-turbo"
)

// TranscriptionResult is the decoded response from Groq's
// audio/transcriptions endpoint.
type TranscriptionResult struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// GroqTranscriber transcribes audio files through Groq's OpenAI-compatible
// Whisper endpoint. A zero-value apiKey makes IsAvailable report false so
// callers can wire it unconditionally and let the absence of a key degrade
// gracefully to "[voice]" placeholders.
type GroqTranscriber struct {
	apiKey     string
	apiBase    string
	httpClient *http.Client
}

func NewGroqTranscriber(apiKey, apiBase string) *GroqTranscriber {
	if apiBase == "" {
		apiBase = defaultGroqAPIBase
	}
	return &GroqTranscriber{
		apiKey:  apiKey,
		apiBase: apiBase,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (t *GroqTranscriber) IsAvailable() bool {
	return t.apiKey != ""
}

func (t *GroqTranscriber) Transcribe(ctx context.Context, audioFilePath string) (*TranscriptionResult, error) {
	if t.apiKey == "" {
		return nil, fmt.Errorf("groq transcriber: no api key configured")
	}

	audioFile, err := os.Open(audioFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer audioFile.Close()

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	part, err := writer.CreateFormFile("file", filepath.Base(audioFilePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, audioFile); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := writer.WriteField("model", transcribeModel); err != nil {
		return nil, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return nil, fmt.Errorf("failed to write response_format field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := t.apiBase + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("groq transcription error (status %d): %s", resp.StatusCode, string(body))
	}

	var result TranscriptionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	logger.InfoCF("voice", "transcription completed", map[string]interface{}{
		"length":  len(result.Text),
		"preview": utils.Truncate(result.Text, 50),
	})

	return &result, nil
}
