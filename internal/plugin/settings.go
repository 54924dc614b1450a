package plugin

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/dvcrn/kickclip/internal/kick"
	"github.com/dvcrn/kickclip/internal/publish"
)

const (
	DefaultClipDuration = 30
	MinClipDuration     = 1
	MaxClipDuration     = 60
)

// Settings is the per-button configuration stored by the host. Values are
// never mutated in place; merge and normalize return copies.
type Settings struct {
	ChannelSlug    string `json:"channelSlug"`
	ClipDuration   int    `json:"clipDuration"`
	ClipTitle      string `json:"clipTitle"`
	AutoPostToChat bool   `json:"autoPostToChat"`
}

// DefaultSettings are used for any field the host does not supply.
func DefaultSettings(channel string) Settings {
	return Settings{
		ChannelSlug:  channel,
		ClipDuration: DefaultClipDuration,
	}
}

// MergeSettings overlays raw host settings on defaults and normalizes the
// result. Fields are decoded independently, so one malformed value only
// falls back to its default. complete is false when raw was missing fields
// or held values that had to be corrected, i.e. when it is worth persisting
// the result.
func MergeSettings(raw json.RawMessage, defaults Settings) (s Settings, complete bool) {
	s = defaults.Normalize()

	var fields map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return s, false
	}

	complete = true
	var slug string
	if decodeField(fields, "channelSlug", &slug) && strings.TrimSpace(slug) != "" {
		s.ChannelSlug = slug
	} else {
		complete = false
	}
	var duration json.Number
	if decodeField(fields, "clipDuration", &duration) {
		if n, err := duration.Float64(); err == nil {
			s.ClipDuration = clampDuration(n)
		} else {
			complete = false
		}
	} else {
		complete = false
	}
	var title string
	if decodeField(fields, "clipTitle", &title) {
		s.ClipTitle = title
	} else {
		complete = false
	}
	var post bool
	if decodeField(fields, "autoPostToChat", &post) {
		s.AutoPostToChat = post
	} else {
		complete = false
	}

	normalized := s.Normalize()
	if normalized != s {
		complete = false
	}
	return normalized, complete
}

// decodeField reports whether key is present, non-null and decodes into dst.
func decodeField(fields map[string]json.RawMessage, key string, dst interface{}) bool {
	v, ok := fields[key]
	if !ok || string(v) == "null" {
		return false
	}
	return json.Unmarshal(v, dst) == nil
}

// clampDuration bounds a host-supplied duration before the int conversion,
// which is undefined for out-of-range floats.
func clampDuration(n float64) int {
	switch {
	case math.IsNaN(n):
		return DefaultClipDuration
	case n > MaxClipDuration:
		return MaxClipDuration
	case n < 0:
		return MinClipDuration
	}
	return int(n)
}

// Normalize trims the channel slug and clamps the clip duration.
func (s Settings) Normalize() Settings {
	s.ChannelSlug = strings.ToLower(strings.TrimSpace(s.ChannelSlug))
	s.ClipTitle = strings.TrimSpace(s.ClipTitle)
	switch {
	case s.ClipDuration == 0:
		s.ClipDuration = DefaultClipDuration
	case s.ClipDuration < MinClipDuration:
		s.ClipDuration = MinClipDuration
	case s.ClipDuration > MaxClipDuration:
		s.ClipDuration = MaxClipDuration
	}
	return s
}

func (s Settings) ClipRequest() kick.ClipRequest {
	return kick.ClipRequest{DurationSeconds: s.ClipDuration, Title: s.ClipTitle}
}

func (s Settings) PublishRequest() publish.Request {
	return publish.Request{
		ChannelSlug: s.ChannelSlug,
		Clip:        s.ClipRequest(),
		Announce:    s.AutoPostToChat,
	}
}
