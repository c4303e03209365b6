package turn

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Realtime API event types
const (
	evSessionUpdate       = "session.update"
	evSessionUpdated      = "session.updated"
	evSessionCreated      = "session.created"
	evBufferAppend        = "input_audio_buffer.append"
	evBufferClear         = "input_audio_buffer.clear"
	evItemCreate          = "conversation.item.create"
	evResponseCreate      = "response.create"
	evResponseCancel      = "response.cancel"
	evResponseCreated     = "response.created"
	evResponseDone        = "response.done"
	evAudioDelta          = "response.audio.delta"
	evAudioTranscriptDone = "response.audio_transcript.done"
	evSpeechStarted       = "input_audio_buffer.speech_started"
	evFunctionArgsDone    = "response.function_call_arguments.done"
	evInputTranscribed    = "conversation.item.input_audio_transcription.completed"
	evError               = "error"
)

const searchToolName = "search_knowledge_base"

type realtimeTool struct {
	Type        string             `json:"type"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
}

// knowledgeQuery is the argument object of the knowledge base tool
type knowledgeQuery struct {
	Query string `json:"query" jsonschema:"description=The search query to find relevant information."`
}

func searchTool() realtimeTool {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.Reflect(&knowledgeQuery{})
	schema.Version = ""
	return realtimeTool{
		Type:        "function",
		Name:        searchToolName,
		Description: "Search the knowledge base for information about services, pricing, or policies.",
		Parameters:  schema,
	}
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

type transcriptionSettings struct {
	Model string `json:"model"`
}

type sessionSettings struct {
	Modalities              []string              `json:"modalities"`
	Instructions            string                `json:"instructions"`
	Voice                   string                `json:"voice"`
	InputAudioFormat        string                `json:"input_audio_format"`
	OutputAudioFormat       string                `json:"output_audio_format"`
	InputAudioTranscription transcriptionSettings `json:"input_audio_transcription"`
	TurnDetection           turnDetection         `json:"turn_detection"`
	Tools                   []realtimeTool        `json:"tools"`
	ToolChoice              string                `json:"tool_choice"`
	Temperature             float64               `json:"temperature"`
	MaxOutputTokens         int                   `json:"max_response_output_tokens"`
}

type sessionUpdate struct {
	Type    string          `json:"type"`
	Session sessionSettings `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type bareEvent struct {
	Type string `json:"type"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

type itemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type responseSettings struct {
	Modalities []string `json:"modalities,omitempty"`
}

type responseCreate struct {
	Type     string            `json:"type"`
	Response *responseSettings `json:"response,omitempty"`
}

// serverEvent carries the fields of every inbound event this package reads
type serverEvent struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	CallID     string          `json:"call_id"`
	Name       string          `json:"name"`
	Arguments  string          `json:"arguments"`
	Response   *serverResponse `json:"response"`
	Error      json.RawMessage `json:"error"`
}

type serverResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Usage  *struct {
		TotalTokens  int `json:"total_tokens"`
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (r *serverResponse) tokens() int {
	if r == nil || r.Usage == nil {
		return 0
	}
	if r.Usage.TotalTokens > 0 {
		return r.Usage.TotalTokens
	}
	return r.Usage.InputTokens + r.Usage.OutputTokens
}
