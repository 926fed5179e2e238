package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ID is an identifier the agent may send either as a number or a string.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Category is a place category path. The agent sends a single string or a
// list of breadcrumbs.
type Category []string

func (c *Category) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var parts []string
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = parts
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode category: %w", err)
	}
	if s == "" {
		*c = nil
		return nil
	}
	*c = Category{s}
	return nil
}

// String joins the breadcrumbs the way the brand screen shows them.
func (c Category) String() string { return strings.Join(c, " > ") }

// Brand is a registered business as listed by the agent.
type Brand struct {
	ID        ID     `json:"id"`
	BrandName string `json:"brand_name"`
	PlaceID   ID     `json:"place_id"`
	ShareURL  string `json:"share_url"`
	Keyword   string `json:"keyword"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Ready reports whether the agent finished registering the brand, which is
// required before an analysis can be requested.
func (b Brand) Ready() bool {
	return b.ShareURL != "" && b.Success
}

// PlaceInfo is the basic listing data returned by place verification.
type PlaceInfo struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Address  string   `json:"address"`
}

// ReportRef points at a generated report.
type ReportRef struct {
	ID        ID     `json:"id"`
	BrandName string `json:"brand_name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// TaskAck acknowledges a queued agent task.
type TaskAck struct {
	TaskID ID `json:"task_id"`
}

type verifyRequest struct {
	Keyword  string `json:"keyword"`
	PlaceURL string `json:"place_url"`
}

type registerRequest struct {
	BrandName string `json:"brand_name"`
	PlaceURL  string `json:"place_url"`
	Keyword   string `json:"keyword"`
}

type taskRequest struct {
	Type      string `json:"type"`
	BrandName string `json:"brand_name"`
	PlaceURL  string `json:"place_url"`
	ShareURL  string `json:"share_url"`
	Keyword   string `json:"keyword"`
}

type brandsResponse struct {
	Data []Brand `json:"data"`
}

type verifyResponse struct {
	Success bool       `json:"success"`
	Data    *PlaceInfo `json:"data"`
	Error   string     `json:"error"`
}

type reportsResponse struct {
	Reports []ReportRef `json:"reports"`
}

type reportResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}
