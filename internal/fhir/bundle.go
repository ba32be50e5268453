package fhir

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/yungbote/paindiary-backend/internal/types"
)

// Minimal FHIR-shaped resources for pain diary interchange. Pain entries map
// onto Observation resources (LOINC 72514-3, pain severity 0-10) collected
// into a Bundle.

const painSeverityLOINC = "72514-3"

type Coding struct {
	System  string `json:"system" xml:"system"`
	Code    string `json:"code" xml:"code"`
	Display string `json:"display" xml:"display"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding" xml:"coding"`
	Text   string   `json:"text" xml:"text"`
}

type Reference struct {
	Reference string `json:"reference" xml:"reference"`
	Display   string `json:"display,omitempty" xml:"display,omitempty"`
}

type Annotation struct {
	Text string `json:"text" xml:"text"`
}

type ObservationComponent struct {
	Code         CodeableConcept `json:"code" xml:"code"`
	ValueInteger *int            `json:"valueInteger,omitempty" xml:"valueInteger,omitempty"`
	ValueString  string          `json:"valueString,omitempty" xml:"valueString,omitempty"`
}

type Observation struct {
	ResourceType      string                 `json:"resourceType" xml:"-"`
	XMLName           xml.Name               `json:"-" xml:"Observation"`
	ID                string                 `json:"id" xml:"id"`
	Status            string                 `json:"status" xml:"status"`
	Code              CodeableConcept        `json:"code" xml:"code"`
	Subject           Reference              `json:"subject" xml:"subject"`
	EffectiveDateTime string                 `json:"effectiveDateTime" xml:"effectiveDateTime"`
	Issued            string                 `json:"issued" xml:"issued"`
	ValueInteger      int                    `json:"valueInteger" xml:"valueInteger"`
	Component         []ObservationComponent `json:"component,omitempty" xml:"component,omitempty"`
	Note              []Annotation           `json:"note,omitempty" xml:"note,omitempty"`
}

type BundleEntry struct {
	FullURL  string      `json:"fullUrl" xml:"fullUrl"`
	Resource Observation `json:"resource"`
}

type Bundle struct {
	ResourceType string        `json:"resourceType" xml:"-"`
	XMLName      xml.Name      `json:"-" xml:"Bundle"`
	Type         string        `json:"type" xml:"type"`
	Timestamp    string        `json:"timestamp" xml:"timestamp"`
	Total        int           `json:"total" xml:"total"`
	Entry        []BundleEntry `json:"entry" xml:"entry"`
}

// BuildBundle turns a user's pain events into a collection Bundle of pain
// severity Observations. Event order is preserved from the caller.
func BuildBundle(user *types.User, events []*types.PainEvent, generatedAt time.Time) (*Bundle, error) {
	if user == nil {
		return nil, fmt.Errorf("user required")
	}

	bundle := &Bundle{
		ResourceType: "Bundle",
		Type:         "collection",
		Timestamp:    generatedAt.UTC().Format(time.RFC3339),
		Total:        0,
		Entry:        []BundleEntry{},
	}

	for _, ev := range events {
		if ev == nil {
			continue
		}
		obs := observationFromEvent(user, ev)
		bundle.Entry = append(bundle.Entry, BundleEntry{
			FullURL:  "urn:uuid:" + ev.ID.String(),
			Resource: obs,
		})
	}
	bundle.Total = len(bundle.Entry)
	return bundle, nil
}

func observationFromEvent(user *types.User, ev *types.PainEvent) Observation {
	obs := Observation{
		ResourceType: "Observation",
		ID:           ev.ID.String(),
		Status:       "final",
		Code: CodeableConcept{
			Coding: []Coding{{
				System:  "http://loinc.org",
				Code:    painSeverityLOINC,
				Display: "Pain severity - 0-10 verbal numeric rating [Score] - Reported",
			}},
			Text: "Pain severity",
		},
		Subject: Reference{
			Reference: "Patient/" + user.ID.String(),
			Display:   user.FullName,
		},
		EffectiveDateTime: ev.OccurredAt.UTC().Format(time.RFC3339),
		Issued:            ev.RecordedAt.UTC().Format(time.RFC3339),
		ValueInteger:      ev.Severity,
	}

	if ev.DurationMinutes != nil {
		obs.Component = append(obs.Component, ObservationComponent{
			Code:         CodeableConcept{Text: "Duration (minutes)"},
			ValueInteger: ev.DurationMinutes,
		})
	}
	for _, c := range []struct{ label, value string }{
		{"Body location", ev.Location},
		{"Triggers", ev.Triggers},
		{"Medications", ev.Medications},
		{"Mood", ev.Mood},
		{"Activity level", ev.ActivityLevel},
	} {
		if c.value == "" {
			continue
		}
		obs.Component = append(obs.Component, ObservationComponent{
			Code:        CodeableConcept{Text: c.label},
			ValueString: c.value,
		})
	}
	if ev.Notes != "" {
		obs.Note = append(obs.Note, Annotation{Text: ev.Notes})
	}
	return obs
}

// Encode serializes the bundle in the requested export format.
func Encode(bundle *Bundle, format types.ExportFormat) ([]byte, error) {
	if bundle == nil {
		return nil, fmt.Errorf("bundle required")
	}
	switch format {
	case types.ExportFormatJSON:
		return json.MarshalIndent(bundle, "", "  ")
	case types.ExportFormatXML:
		data, err := xml.MarshalIndent(bundle, "", "  ")
		if err != nil {
			return nil, err
		}
		return append([]byte(xml.Header), data...), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}
