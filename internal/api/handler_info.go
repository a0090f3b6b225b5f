package api

import (
	"net/http"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/capability"
	"github.com/loqalabs/loqa-tts/internal/voices"
)

type healthResponse struct {
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	ModelLoaded bool      `json:"modelLoaded"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	orch := h.pipeline.Orchestrator()
	resp := healthResponse{
		Status:      "healthy",
		Message:     "speech synthesis service is running",
		Timestamp:   h.now().UTC(),
		ModelLoaded: orch.Loaded(),
	}
	if !resp.ModelLoaded {
		resp.Message = "speech synthesis service is running, model loads on first request"
	}
	writeJSON(w, http.StatusOK, resp)
}

type infoResponse struct {
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Engine      string            `json:"engine"`
	SampleRate  int               `json:"sampleRate"`
	Endpoints   map[string]string `json:"endpoints"`
	Parameters  map[string]string `json:"parameters"`
	ModelLoaded bool              `json:"modelLoaded"`
}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	orch := h.pipeline.Orchestrator()
	writeJSON(w, http.StatusOK, infoResponse{
		Service:     "loqa-tts",
		Version:     h.opts.Version,
		Description: "text to speech synthesis service",
		Engine:      orch.EngineName(),
		SampleRate:  audio.SampleRate,
		Endpoints: map[string]string{
			"health":     "/health - service health",
			"tts":        "/api/tts - synthesize speech as a wav download",
			"tts_base64": "/api/tts_base64 - synthesize speech as base64 json",
			"speakers":   "/api/speakers - list available speakers",
			"synthesis":  "/api/synthesis/{id} - attempt log of a past request",
			"history":    "/api/synthesis?limit=N - newest synthesis records",
			"nodes":      "/api/nodes - synthesis nodes on the bus",
			"info":       "/api/info - service information",
		},
		Parameters: map[string]string{
			"text":    "string (required) - text to speak",
			"speaker": "string (optional) - speaker id, default from configuration",
			"speed":   "float (optional) - speaking rate 0.5-2.0, default 1.0",
			"pitch":   "int (optional) - pitch shift -12 to 12, default 0",
			"volume":  "float (optional) - volume 0.1-2.0, default 1.0",
		},
		ModelLoaded: orch.Loaded(),
	})
}

type speakersResponse struct {
	Speakers []voices.Voice `json:"speakers"`
}

func (h *Handler) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, speakersResponse{Speakers: h.voices.List()})
}

type nodesResponse struct {
	Nodes []capability.NodeInfo `json:"nodes"`
}

// handleNodes lists synthesis nodes; ?ready=true keeps only nodes that can
// serve a request right now.
func (h *Handler) handleNodes(w http.ResponseWriter, r *http.Request) {
	resp := nodesResponse{Nodes: []capability.NodeInfo{}}
	if h.opts.Nodes != nil {
		synth := capability.WithCapabilityFilter(capability.CapabilitySynthesize)
		onlyReady := r.URL.Query().Get("ready") == "true"
		nodes := h.opts.Nodes.Query(func(n capability.NodeInfo) bool {
			return synth(n) && (!onlyReady || capability.ReadyFilter(n))
		})
		if nodes != nil {
			resp.Nodes = nodes
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
