package capture

import (
	"encoding/json"
	"testing"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/core"
)

func reply(result string) agent.Response {
	return agent.Response{Success: true, Response: agent.Envelope{Status: "completed", Result: json.RawMessage(result)}}
}

func TestParseSpreadsheetReplyShapes(t *testing.T) {
	cases := []struct {
		name  string
		resp  agent.Response
		cents []int64
	}{
		{"bare array", reply(`[{"amount": 12.5, "category": "food"}, {"amount": "3,20"}]`), []int64{1250, 320}},
		{"expenses key", reply(`{"expenses": [{"total": 9.99}]}`), []int64{999}},
		{"items key", reply(`{"items": [{"price": "€ 1.234,50"}]}`), []int64{123450}},
		{"transactions key", reply(`{"Transactions": [{"value": -7}]}`), []int64{700}},
		{"records key", reply(`{"records": [{"amount": 1}, {"amount": 2}]}`), []int64{100, 200}},
		{"json string", reply(`"[{\"amount\": 4}]"`), []int64{400}},
		{"fenced json string", reply("\"```json\\n{\\\"items\\\": [{\\\"amount\\\": 5}]}\\n```\""), []int64{500}},
		{"message carries json", agent.Response{Success: true, Response: agent.Envelope{Message: `[{"amount": 6}]`}}, []int64{600}},
		{"single record", reply(`{"amount": 8, "notes": "taxi"}`), []int64{800}},
		{"rows without amount skipped", reply(`[{"amount": 2}, {"category": "Food"}, {"amount": "n/a"}]`), []int64{200}},
		{"unrecognized object", reply(`{"status": "done", "rows": 3}`), nil},
		{"plain text", agent.Response{Success: true, Response: agent.Envelope{Message: "I could not read it"}}, nil},
		{"empty", agent.Response{Success: true}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseSpreadsheetReply(tc.resp, fixedNow)
			if len(got) != len(tc.cents) {
				t.Fatalf("expected %d candidates, got %+v", len(tc.cents), got)
			}
			for i, c := range got {
				if c.Amount.Cents != tc.cents[i] {
					t.Errorf("candidate %d: expected %d cents, got %d", i, tc.cents[i], c.Amount.Cents)
				}
				if c.Source != core.SourceSpreadsheet {
					t.Errorf("unexpected source %s", c.Source)
				}
			}
		})
	}
}

func TestCandidateFieldMapping(t *testing.T) {
	got := ParseSpreadsheetReply(reply(`[
		{"amount": 10, "category": "TRAVEL", "description": "Flight", "date": "2025-02-03"},
		{"amount": 11, "merchant": "Corner shop", "date": "not a date"},
		{"amount": 12, "title": "Book", "category": "Hobbies"}
	]`), fixedNow)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}
	if got[0].Category != "Travel" || got[0].Notes != "Flight" || got[0].Date.Format("2006-01-02") != "2025-02-03" {
		t.Errorf("unexpected first candidate %+v", got[0])
	}
	if got[1].Category != core.CategoryOther || got[1].Notes != "Corner shop" || !got[1].Date.Equal(fixedNow) {
		t.Errorf("unexpected second candidate %+v", got[1])
	}
	if got[2].Category != "Hobbies" || got[2].Notes != "Book" {
		t.Errorf("unexpected third candidate %+v", got[2])
	}
}

func TestNormalizeNumber(t *testing.T) {
	cases := map[string]string{
		"12.34":        "12.34",
		"12,34":        "12.34",
		"1.234,50":     "1234.50",
		"1,234.50":     "1234.50",
		"1,234":        "1234",
		"1.234.567":    "1234567",
		"1.234.567,89": "1234567.89",
		"-7,00":        "7.00",
	}
	for in, want := range cases {
		if got := normalizeNumber(in); got != want {
			t.Errorf("normalizeNumber(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseImageReplyConfidence(t *testing.T) {
	cases := []struct {
		name    string
		result  string
		overall float64
		fields  map[string]float64
	}{
		{
			name:    "nested fractions with overall",
			result:  `{"amount": 23.1, "merchant": "Cafe", "confidence": {"amount": 0.9, "merchant": 0.5}, "overall_confidence": 0.8}`,
			overall: 80,
			fields:  map[string]float64{"amount": 90, "notes": 50},
		},
		{
			name:    "suffixed percentages, mean overall",
			result:  `{"total": "23.10", "category": "Food", "total_confidence": 90, "category_confidence": "70%"}`,
			overall: 80,
			fields:  map[string]float64{"amount": 90, "category": 70},
		},
		{
			name:    "scalar confidence is overall",
			result:  `{"amount": 1, "confidence": 0.42}`,
			overall: 42,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := ParseImageReply(reply(tc.result), fixedNow)
			if !ok {
				t.Fatal("expected a candidate")
			}
			if c.Confidence == nil || *c.Confidence != tc.overall {
				t.Fatalf("expected overall %v, got %v", tc.overall, c.Confidence)
			}
			if len(c.FieldConfidence) != len(tc.fields) {
				t.Fatalf("expected fields %v, got %v", tc.fields, c.FieldConfidence)
			}
			for k, v := range tc.fields {
				if c.FieldConfidence[k] != v {
					t.Errorf("%s: expected %v, got %v", k, v, c.FieldConfidence[k])
				}
			}
			if c.Source != core.SourceImage {
				t.Errorf("unexpected source %s", c.Source)
			}
		})
	}

	if _, ok := ParseImageReply(reply(`{"merchant": "no total"}`), fixedNow); ok {
		t.Fatal("expected no candidate without amount")
	}
}

func TestPercentClamps(t *testing.T) {
	if p, ok := percent(json.Number("250")); !ok || p != 100 {
		t.Fatalf("expected 100, got %v %v", p, ok)
	}
	if _, ok := percent(json.Number("-1")); ok {
		t.Fatal("negative score must be rejected")
	}
}
