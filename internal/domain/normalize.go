package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ============================================================
// Normalization: server record -> Lead
// ============================================================
//
// The CRM API has shipped several shapes for the same record:
//
//	summary | request | description   -> Lead.Summary   (first non-empty wins)
//	created_at | createdAt            -> Lead.CreatedAt (first non-empty wins)
//
// Everything downstream of NormalizeLead only ever sees the canonical fields.

// SummaryFields is the priority order for the request description.
var SummaryFields = []string{"summary", "request", "description"}

// CreatedAtFields is the priority order for the creation timestamp.
var CreatedAtFields = []string{"created_at", "createdAt"}

// RawLead is a lead record as decoded from the wire (numbers kept as json.Number).
type RawLead map[string]any

// CanonicalID folds a wire id (string, number) into a LeadID.
func CanonicalID(v any) (LeadID, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("empty id")
		}
		return LeadID(id), nil
	case LeadID:
		if id == "" {
			return "", fmt.Errorf("empty id")
		}
		return id, nil
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return LeadID(strconv.FormatInt(n, 10)), nil
		}
		if f, err := id.Float64(); err == nil {
			return LeadID(strconv.FormatFloat(f, 'f', -1, 64)), nil
		}
		return LeadID(id.String()), nil
	case float64:
		return LeadID(strconv.FormatFloat(id, 'f', -1, 64)), nil
	case int:
		return LeadID(strconv.Itoa(id)), nil
	case int64:
		return LeadID(strconv.FormatInt(id, 10)), nil
	case nil:
		return "", fmt.Errorf("missing id")
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}

// NormalizeLead maps a raw record into the canonical Lead shape.
// When no creation timestamp is present it falls back to now(), which is
// the normalization time and not the real creation time.
func NormalizeLead(raw RawLead, now func() time.Time) (Lead, error) {
	id, err := CanonicalID(raw["id"])
	if err != nil {
		return Lead{}, &ErrValidation{Field: "id", Message: err.Error()}
	}

	lead := Lead{
		ID:        id,
		Name:      stringField(raw["name"]),
		Phone:     stringField(raw["phone"]),
		City:      stringField(raw["city"]),
		Summary:   firstNonEmpty(raw, SummaryFields),
		CreatedAt: firstNonEmpty(raw, CreatedAtFields),
		Status:    Status(stringField(raw["status"])),
	}
	if lead.CreatedAt == "" {
		lead.CreatedAt = now().UTC().Format(time.RFC3339Nano)
	}
	if lead.Status == "" {
		lead.Status = StatusNew
	}
	return lead, nil
}

// DecodeLead decodes a single JSON object and normalizes it.
func DecodeLead(body []byte, now func() time.Time) (Lead, error) {
	var raw RawLead
	if err := decodeJSON(body, &raw); err != nil {
		return Lead{}, &ErrValidation{Field: "lead", Message: err.Error()}
	}
	if raw == nil {
		return Lead{}, &ErrValidation{Field: "lead", Message: "expected a JSON object"}
	}
	return NormalizeLead(raw, now)
}

// UnwrapLeadList extracts the record list from either a bare array or a
// {"leads": [...]} envelope. Any other shape yields an empty list.
func UnwrapLeadList(body []byte) []RawLead {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []RawLead{}
	}

	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return []RawLead{}
		}
	case '{':
		var envelope struct {
			Leads json.RawMessage `json:"leads"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return []RawLead{}
		}
		inner := bytes.TrimSpace(envelope.Leads)
		if len(inner) == 0 || inner[0] != '[' {
			return []RawLead{}
		}
		if err := json.Unmarshal(inner, &items); err != nil {
			return []RawLead{}
		}
	default:
		return []RawLead{}
	}

	out := make([]RawLead, 0, len(items))
	for _, item := range items {
		var raw RawLead
		if err := decodeJSON(item, &raw); err != nil || raw == nil {
			continue // not an object
		}
		out = append(out, raw)
	}
	return out
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func firstNonEmpty(raw RawLead, keys []string) string {
	for _, k := range keys {
		if s := stringField(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringField(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}
