package streamdeck

import "encoding/json"

// Inbound event names.
const (
	EventKeyDown            = "keyDown"
	EventWillAppear         = "willAppear"
	EventWillDisappear      = "willDisappear"
	EventDidReceiveSettings = "didReceiveSettings"
	EventSendToPlugin       = "sendToPlugin"
)

// Event is a message received from the host. Payload is decoded lazily
// because its shape depends on Event.
type Event struct {
	Event   string          `json:"event"`
	Action  string          `json:"action,omitempty"`
	Context string          `json:"context,omitempty"`
	Device  string          `json:"device,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SettingsPayload is the payload of keyDown, willAppear and
// didReceiveSettings.
type SettingsPayload struct {
	Settings json.RawMessage `json:"settings"`
}

// Settings returns the raw settings object carried by the event, or nil.
func (e Event) Settings() json.RawMessage {
	if len(e.Payload) == 0 {
		return nil
	}
	var p SettingsPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil
	}
	return p.Settings
}

type outbound struct {
	Event   string      `json:"event"`
	UUID    string      `json:"uuid,omitempty"`
	Context string      `json:"context,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type titlePayload struct {
	Title  string `json:"title"`
	Target int    `json:"target"`
}

type urlPayload struct {
	URL string `json:"url"`
}
