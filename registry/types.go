package registry

import "errors"

// Target errors.
var (
	// ErrNoCallTarget indicates that none of assistant, squad, or
	// workflow was supplied.
	ErrNoCallTarget = errors.New("no call target supplied: assistant, squad, or workflow is required")

	// ErrAmbiguousCallTarget indicates more than one call target kind
	// was supplied.
	ErrAmbiguousCallTarget = errors.New("ambiguous call target: supply exactly one of assistant, squad, or workflow")

	// ErrMissingWebCallURL indicates the created call record carries no
	// joinable room reference. Call creation nominally succeeded, so
	// this is a configuration error on the registry side.
	ErrMissingWebCallURL = errors.New("web call record has no webCallUrl")
)

// Target identifies what the created call should connect the caller to:
// an assistant, a squad, or a workflow, each either inline or by id.
// Exactly one of the three kinds must be supplied.
type Target struct {
	Assistant   map[string]any `json:"assistant,omitempty"`
	AssistantID string         `json:"assistantId,omitempty"`

	Squad   map[string]any `json:"squad,omitempty"`
	SquadID string         `json:"squadId,omitempty"`

	Workflow   map[string]any `json:"workflow,omitempty"`
	WorkflowID string         `json:"workflowId,omitempty"`

	AssistantOverrides map[string]any `json:"assistantOverrides,omitempty"`
	WorkflowOverrides  map[string]any `json:"workflowOverrides,omitempty"`
}

// Kind reports which target kind is populated, or "" when none is.
func (t Target) Kind() string {
	switch {
	case t.Assistant != nil || t.AssistantID != "":
		return "assistant"
	case t.Squad != nil || t.SquadID != "":
		return "squad"
	case t.Workflow != nil || t.WorkflowID != "":
		return "workflow"
	default:
		return ""
	}
}

// Validate checks that exactly one target kind is supplied.
func (t Target) Validate() error {
	kinds := 0
	if t.Assistant != nil || t.AssistantID != "" {
		kinds++
	}
	if t.Squad != nil || t.SquadID != "" {
		kinds++
	}
	if t.Workflow != nil || t.WorkflowID != "" {
		kinds++
	}
	switch kinds {
	case 0:
		return ErrNoCallTarget
	case 1:
		return nil
	default:
		return ErrAmbiguousCallTarget
	}
}

// ArtifactPlan is the subset of the call's artifact plan the client needs:
// whether the backend expects a video recording of the session.
type ArtifactPlan struct {
	VideoRecordingEnabled bool `json:"videoRecordingEnabled"`
}

// AssistantVoice is the voice provider metadata used to decide whether the
// session needs video capture.
type AssistantVoice struct {
	Provider string `json:"provider"`
}

// AssistantSummary is the slice of assistant configuration returned on the
// call record.
type AssistantSummary struct {
	Voice *AssistantVoice `json:"voice,omitempty"`
}

// WebCall is the call record issued by the registry. The webCallUrl is the
// room reference the media transport joins.
type WebCall struct {
	ID           string            `json:"id"`
	OrgID        string            `json:"orgId,omitempty"`
	WebCallURL   string            `json:"webCallUrl"`
	ArtifactPlan *ArtifactPlan     `json:"artifactPlan,omitempty"`
	Assistant    *AssistantSummary `json:"assistant,omitempty"`
}

// VideoRecordingEnabled reports whether the backend expects a recording.
func (c *WebCall) VideoRecordingEnabled() bool {
	return c != nil && c.ArtifactPlan != nil && c.ArtifactPlan.VideoRecordingEnabled
}

// videoVoiceProviders are voice providers that render a video avatar; a
// call using one needs local video capture even without recording.
var videoVoiceProviders = map[string]bool{
	"tavus": true,
}

// HasVideoVoiceProvider reports whether the assistant's voice provider is
// video-capable.
func (c *WebCall) HasVideoVoiceProvider() bool {
	if c == nil || c.Assistant == nil || c.Assistant.Voice == nil {
		return false
	}
	return videoVoiceProviders[c.Assistant.Voice.Provider]
}
