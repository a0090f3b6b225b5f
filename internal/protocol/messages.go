package protocol

import "time"

// SynthesisRequest is the JSON body accepted over HTTP and on the bus.
// Speed, Pitch and Volume are advisory hints; engines are free to ignore them.
type SynthesisRequest struct {
	Text    *string  `json:"text"`
	Speaker string   `json:"speaker,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
	Pitch   *int     `json:"pitch,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
}

// AudioEnvelope carries base64 encoded audio for embedded delivery. The
// effective hints are echoed back whether or not the engine honored them.
type AudioEnvelope struct {
	Success     bool    `json:"success"`
	RequestID   string  `json:"requestId,omitempty"`
	AudioBase64 string  `json:"audioBase64"`
	Format      string  `json:"format"`
	SampleRate  int     `json:"sampleRate"`
	TextLength  int     `json:"textLength"`
	Speaker     string  `json:"speaker"`
	Speed       float64 `json:"speed"`
	Pitch       int     `json:"pitch"`
	Volume      float64 `json:"volume"`
}

// ErrorEnvelope is returned for every failed request. Errors and Details are
// set when the engine exhausted its strategies.
type ErrorEnvelope struct {
	Error               string   `json:"error"`
	RequestID           string   `json:"requestId,omitempty"`
	FallbackRecommended bool     `json:"fallbackRecommended,omitempty"`
	Details             string   `json:"details,omitempty"`
	Errors              []string `json:"errors,omitempty"`
}

// SynthesisReply is the bus reply: exactly one of Audio or Failure is set.
type SynthesisReply struct {
	Audio   *AudioEnvelope `json:"audio,omitempty"`
	Failure *ErrorEnvelope `json:"failure,omitempty"`
}

// SynthesisEvent is published after every synthesis run.
type SynthesisEvent struct {
	RequestID           string    `json:"request_id"`
	NodeID              string    `json:"node_id"`
	Speaker             string    `json:"speaker"`
	TextLength          int       `json:"text_length"`
	Status              string    `json:"status"`
	Reason              string    `json:"reason,omitempty"`
	Strategy            string    `json:"strategy,omitempty"`
	Attempts            int       `json:"attempts"`
	FallbackRecommended bool      `json:"fallback_recommended"`
	DurationMS          int64     `json:"duration_ms"`
	Timestamp           time.Time `json:"timestamp"`
}

const (
	SubjectSynthesize         = "tts.synthesize"
	SubjectSynthesisCompleted = "tts.synthesis.completed"
	SubjectSynthesisFailed    = "tts.synthesis.failed"
	SubjectNodeAnnounce       = "ctrl.node.announce"
	SubjectNodeHeartbeat      = "ctrl.node.heartbeat"

	// QueueSynthesize load balances bus requests across service replicas.
	QueueSynthesize = "loqa-tts"
)
