package invoke

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"llmcouncil/internal/core"
	"llmcouncil/internal/util"
)

// ChatRequest is the body posted to a backend chat endpoint.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []core.Message `json:"messages"`
	Stream   bool           `json:"stream"`
}

// chatChunk covers the response shapes we accept: Ollama chat, Ollama
// generate and OpenAI-compatible chat completions.
type chatChunk struct {
	Message  *chunkMessage `json:"message,omitempty"`
	Response *string       `json:"response,omitempty"`
	Choices  []struct {
		Message *chunkMessage `json:"message,omitempty"`
	} `json:"choices,omitempty"`
	Error any `json:"error,omitempty"`
}

type chunkMessage struct {
	Content string `json:"content"`
}

// Parse errors returned by ExtractContent.
var (
	ErrEmptyBody     = errors.New("empty response body")
	ErrNoContent     = errors.New("no recognizable content field")
	ErrBackendReport = errors.New("backend reported error")
)

// BuildPayload encodes the request body for spec. Equal inputs produce
// byte-identical output.
func BuildPayload(spec core.ModelSpec, history []core.Message) ([]byte, error) {
	messages := make([]core.Message, len(history))
	copy(messages, history)
	payload, err := util.MarshalJSON(ChatRequest{
		Model:    spec.Name,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	return payload, nil
}

// Endpoint resolves the chat URL for a backend base URL. A bare host gets the
// Ollama chat path appended; a URL that already has a path is used as-is.
func Endpoint(base string) (string, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = core.DefaultOllamaURL
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid backend url %q: %w", base, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid backend url %q: unsupported scheme", base)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid backend url %q: missing host", base)
	}
	if parsed.Path == "" || parsed.Path == "/" {
		parsed.Path = core.OllamaChatPath
	}
	return parsed.String(), nil
}

// ExtractContent pulls the answer text out of a backend response body. It
// accepts a single JSON object, a JSON array of chunks or newline-delimited
// chunks; chunk texts are concatenated in order. A recognized but blank
// answer is returned as is.
func ExtractContent(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ErrEmptyBody
	}

	var chunks []chatChunk
	switch trimmed[0] {
	case '[':
		if err := util.UnmarshalJSON(trimmed, &chunks); err != nil {
			return "", fmt.Errorf("decode chunk array: %w", err)
		}
	case '{':
		var single chatChunk
		if err := util.UnmarshalJSON(trimmed, &single); err == nil {
			chunks = []chatChunk{single}
		} else {
			ndjson, ndErr := decodeLines(trimmed)
			if ndErr != nil {
				return "", fmt.Errorf("decode response: %w", err)
			}
			chunks = ndjson
		}
	default:
		return "", fmt.Errorf("decode response: unexpected leading byte %q", trimmed[0])
	}

	var sb strings.Builder
	recognized := false
	for _, chunk := range chunks {
		if msg := errorMessage(chunk.Error); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrBackendReport, msg)
		}
		text, ok := chunk.text()
		if !ok {
			continue
		}
		recognized = true
		sb.WriteString(text)
	}

	if !recognized {
		return "", ErrNoContent
	}
	return sb.String(), nil
}

func decodeLines(body []byte) ([]chatChunk, error) {
	var chunks []chatChunk
	for i, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := util.UnmarshalJSON(line, &chunk); err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		chunks = append(chunks, chunk)
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyBody
	}
	return chunks, nil
}

func (c chatChunk) text() (string, bool) {
	switch {
	case c.Message != nil:
		return c.Message.Content, true
	case c.Response != nil:
		return *c.Response, true
	case len(c.Choices) > 0 && c.Choices[0].Message != nil:
		return c.Choices[0].Message.Content, true
	}
	return "", false
}

// errorMessage flattens the error field, which backends send either as a
// string or as an object with a message.
func errorMessage(v any) string {
	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(e)
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	}
	data, err := util.MarshalJSON(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
