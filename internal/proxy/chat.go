package proxy

import "encoding/base64"

// ChatMessage is one turn in the backend chat protocol.
type ChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ChatOptions maps sampling parameters onto the backend's option names.
type ChatOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict"`
}

// ChatPayload is the body of POST /api/chat.
type ChatPayload struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ChatOptions   `json:"options"`
}

// BuildPayload translates a request into a single streaming user turn.
func BuildPayload(model string, req PredictionRequest) ChatPayload {
	return ChatPayload{
		Model: model,
		Messages: []ChatMessage{{
			Role:    "user",
			Content: req.Prompt,
			Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
		}},
		Stream: true,
		Options: ChatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
		},
	}
}

// chatChunk is one NDJSON line of a streaming chat response. Pointers tell
// "field absent" apart from "field empty".
type chatChunk struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}
