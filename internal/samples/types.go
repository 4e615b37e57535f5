package samples

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/FairForge/samplehub/internal/imaging"
)

// Dataset groups samples under a unique name.
type Dataset struct {
	ID        int64          `json:"-"`
	Name      string         `json:"name"`
	Info      map[string]any `json:"info"`
	CreatedAt time.Time      `json:"created_at"`
}

// Sample is one registered payload and its metadata.
type Sample struct {
	ID          int64     `json:"-"`
	DatasetID   int64     `json:"-"`
	Name        string    `json:"name"`
	Info        Info      `json:"info"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// ImageStatus tracks derivation progress.
type ImageStatus string

const (
	StatusCreating ImageStatus = "CREATING"
	StatusCreated  ImageStatus = "CREATED"
	StatusFailed   ImageStatus = "FAILED"
)

// ImageDescriptor is stored under info.image. Count is set only when
// CREATED by a derivation and Reason only when FAILED. Unknown keys are
// kept in Extra and survive every status transition.
type ImageDescriptor struct {
	URL    string                     `json:"url,omitempty"`
	Type   imaging.ImageType          `json:"type"`
	Status ImageStatus                `json:"status,omitempty"`
	Count  *int                       `json:"count,omitempty"`
	Reason string                     `json:"reason,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// imageFields has the descriptor's layout without its JSON methods
type imageFields ImageDescriptor

var imageKeys = []string{"url", "type", "status", "count", "reason"}

func (d ImageDescriptor) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(imageFields(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return known, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	out := copyFields(d.Extra)
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

func (d *ImageDescriptor) UnmarshalJSON(b []byte) error {
	var known imageFields
	if err := json.Unmarshal(b, &known); err != nil {
		return err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for _, k := range imageKeys {
		delete(fields, k)
	}
	*d = ImageDescriptor(known)
	d.Extra = nilIfEmpty(fields)
	return nil
}

// MarkCreating resets the descriptor for a fresh derivation under prefix.
func (d *ImageDescriptor) MarkCreating(prefix string) {
	d.URL = prefix
	d.Status = StatusCreating
	d.Count = nil
	d.Reason = ""
}

// MarkCreated records a successful derivation of count images.
func (d *ImageDescriptor) MarkCreated(count int) {
	d.Status = StatusCreated
	d.Count = &count
	d.Reason = ""
}

// MarkFailed records a failed derivation.
func (d *ImageDescriptor) MarkFailed(reason string) {
	if reason == "" {
		reason = "unknown error"
	}
	d.Status = StatusFailed
	d.Count = nil
	d.Reason = reason
}

// DataRef points at the raw payload.
type DataRef struct {
	URL   string                     `json:"url"`
	Extra map[string]json.RawMessage `json:"-"`
}

func (d DataRef) MarshalJSON() ([]byte, error) {
	out := copyFields(d.Extra)
	url, err := json.Marshal(d.URL)
	if err != nil {
		return nil, err
	}
	out["url"] = url
	return json.Marshal(out)
}

func (d *DataRef) UnmarshalJSON(b []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if raw, ok := fields["url"]; ok {
		if err := json.Unmarshal(raw, &d.URL); err != nil {
			return fmt.Errorf("data.url: %w", err)
		}
		delete(fields, "url")
	}
	d.Extra = nilIfEmpty(fields)
	return nil
}

// Info is the free-form metadata of a sample. Known keys are typed; any
// other key is kept verbatim in Extra.
type Info struct {
	Data  *DataRef
	Image *ImageDescriptor
	Label any
	Split string
	Extra map[string]json.RawMessage
}

// DataURL returns the payload locator or "" when absent.
func (i Info) DataURL() string {
	if i.Data == nil {
		return ""
	}
	return i.Data.URL
}

func (i Info) MarshalJSON() ([]byte, error) {
	out := copyFields(i.Extra)
	set := func(key string, v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		out[key] = raw
		return nil
	}
	if i.Data != nil {
		if err := set("data", i.Data); err != nil {
			return nil, err
		}
	}
	if i.Image != nil {
		if err := set("image", i.Image); err != nil {
			return nil, err
		}
	}
	if i.Label != nil {
		if err := set("label", i.Label); err != nil {
			return nil, err
		}
	}
	if i.Split != "" {
		if err := set("split", i.Split); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (i *Info) UnmarshalJSON(b []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*i = Info{}

	if raw, ok := fields["data"]; ok {
		i.Data = &DataRef{}
		if err := json.Unmarshal(raw, i.Data); err != nil {
			return fmt.Errorf("data: %w", err)
		}
		delete(fields, "data")
	}
	if raw, ok := fields["image"]; ok {
		i.Image = &ImageDescriptor{}
		if err := json.Unmarshal(raw, i.Image); err != nil {
			return fmt.Errorf("image: %w", err)
		}
		delete(fields, "image")
	}
	if raw, ok := fields["label"]; ok {
		if err := json.Unmarshal(raw, &i.Label); err != nil {
			return fmt.Errorf("label: %w", err)
		}
		delete(fields, "label")
	}
	if raw, ok := fields["split"]; ok {
		if err := json.Unmarshal(raw, &i.Split); err != nil {
			return fmt.Errorf("split: %w", err)
		}
		delete(fields, "split")
	}
	i.Extra = nilIfEmpty(fields)
	return nil
}

// LabelString renders the label the way Postgres' info->>'label' does.
func (i Info) LabelString() string {
	switch v := i.Label.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(string(raw))
	}
}

// Clone returns a deep copy through the JSON form.
func (i Info) Clone() (Info, error) {
	raw, err := json.Marshal(i)
	if err != nil {
		return Info{}, err
	}
	var out Info
	if err := json.Unmarshal(raw, &out); err != nil {
		return Info{}, err
	}
	return out, nil
}

// Filter narrows sample listings. A nil Limit means no limit.
type Filter struct {
	Prefix string
	Label  string
	Split  string
	Limit  *int
	Offset int
}

func copyFields(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in)+4)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func nilIfEmpty(m map[string]json.RawMessage) map[string]json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	return m
}
