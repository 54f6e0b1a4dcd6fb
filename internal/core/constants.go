package core

import "time"

// Council defaults, used when no council file is present.
const (
	DefaultOllamaURL       = "http://127.0.0.1:11434"
	DefaultChairmanModel   = "llama3"
	DefaultModelTimeout    = 180 * time.Second
	DefaultCouncilFilePath = "council.yaml"
	DefaultDataDir         = "data/conversations"
)

// DefaultCouncilModels is the roster used when nothing else is configured.
var DefaultCouncilModels = []string{"llama3", "mistral", "phi3"}

// Backend wire constants
const (
	OllamaChatPath           = "/api/chat"
	MaxErrorBodyChars        = 240
	TimeoutReasonPrefix      = "timeout"
	NoAnswerAnnotation       = "did not respond"
	DefaultConversationTitle = "New Conversation"
	MaxTitleLength           = 60
	TitleTimeout             = 30 * time.Second
)
