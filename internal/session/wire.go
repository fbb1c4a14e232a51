package session

// Client-to-server control message types.
const (
	msgPing        = "ping"
	msgReset       = "reset"
	msgEndOfSpeech = "end_of_speech"
)

// Status states reported to the client on state entry.
const (
	stateListening    = "listening"
	stateTranscribing = "transcribing"
	stateReasoning    = "reasoning"
	stateSpeaking     = "speaking"
	stateIdle         = "idle"
)

// Error codes carried by errorMsg.
const (
	codeSTTFailed = "stt_failed"
	codeLLMFailed = "llm_failed"
	codeTTSFailed = "tts_failed"
)

// controlMsg is the envelope every client text frame must parse into.
type controlMsg struct {
	Type string `json:"type"`
}

// connectedMsg is the first server message after the WebSocket upgrade. The
// chunk size is advisory; clients may send any chunk size they like.
type connectedMsg struct {
	Type        string `json:"type"`
	SampleRate  int    `json:"sample_rate"`
	ChunkSizeMs int    `json:"chunk_size_ms"`
}

type pongMsg struct {
	Type string `json:"type"`
}

type statusMsg struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// latency breaks a completed turn down by pipeline stage, in milliseconds.
type latency struct {
	STTMs   int64 `json:"stt_ms"`
	LLMMs   int64 `json:"llm_ms"`
	TTSMs   int64 `json:"tts_ms"`
	TotalMs int64 `json:"total_ms"`
}

type doneMsg struct {
	Type    string  `json:"type"`
	Latency latency `json:"latency"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// textMsg carries an assistant reply as plain text when synthesis failed and
// no audio can be streamed.
type textMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
