package capture

import (
	"bytes"
	"encoding/json"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/core"
)

// Keys the agent is known to use. The first present key wins.
var (
	listKeys     = []string{"expenses", "items", "transactions", "records"}
	amountKeys   = []string{"amount", "total", "price", "value"}
	notesKeys    = []string{"notes", "description", "merchant", "title"}
	categoryKeys = []string{"category"}
	dateKeys     = []string{"date"}
)

// maxUnwrap bounds how many layers of JSON-in-a-string are peeled off.
const maxUnwrap = 3

var amountNoise = regexp.MustCompile(`[^0-9.,\-]`)

// payload picks the part of a reply that carries data: the result, or the
// message when the result is empty and the message looks like JSON.
func payload(resp agent.Response) json.RawMessage {
	if r := bytes.TrimSpace(resp.Response.Result); len(r) > 0 && !bytes.Equal(r, []byte("null")) {
		return r
	}
	msg := strings.TrimSpace(resp.Response.Message)
	if strings.HasPrefix(msg, "{") || strings.HasPrefix(msg, "[") {
		return json.RawMessage(msg)
	}
	return nil
}

// decode parses raw with json.Number so amounts keep their precision, and
// peels off JSON documents that arrive encoded as strings.
func decode(raw json.RawMessage) any {
	var v any
	for i := 0; i < maxUnwrap && len(raw) > 0; i++ {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil
		}
		s, ok := v.(string)
		if !ok {
			return v
		}
		raw = json.RawMessage(stripFence(s))
	}
	if _, ok := v.(string); ok {
		return nil
	}
	return v
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// records extracts the list of record objects from a decoded reply: a bare
// array, an object wrapping one under a known key, or a single record.
func records(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		for _, k := range listKeys {
			if inner, ok := lookup(t, k); ok {
				if list, ok := inner.([]any); ok {
					return records(list)
				}
			}
		}
		for _, k := range amountKeys {
			if _, ok := lookup(t, k); ok {
				return []map[string]any{t}
			}
		}
	}
	return nil
}

// lookup finds key case-insensitively.
func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func firstString(m map[string]any, keys []string) (string, string) {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, k
		}
	}
	return "", ""
}

// parseAmount reads "12.34", "€ 1.234,50", 12.34 or "-7,00". Signs are
// dropped: bank exports list debits as negative numbers.
func parseAmount(v any) (core.Money, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = t
	case float64:
		s = decimal.NewFromFloat(t).String()
	default:
		return core.Money{}, false
	}
	s = normalizeNumber(amountNoise.ReplaceAllString(s, ""))
	d, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, false
	}
	m, err := core.MoneyFromDecimal(d.Abs())
	if err != nil {
		return core.Money{}, false
	}
	return m, true
}

// normalizeNumber resolves thousands and decimal separators. With both
// present the later one is the decimal point; a lone comma followed by one
// or two digits is a decimal comma; repeated separators are grouping.
func normalizeNumber(s string) string {
	s = strings.ReplaceAll(s, "-", "")
	lastDot, lastComma := strings.LastIndex(s, "."), strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			return strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if tail := len(s) - lastComma - 1; strings.Count(s, ",") == 1 && tail >= 1 && tail <= 2 {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

func truncateNotes(s string) string {
	if utf8.RuneCountInString(s) <= core.MaxNotesLength {
		return s
	}
	r := []rune(s)
	return string(r[:core.MaxNotesLength])
}

// candidateFrom maps one record. ok is false when no usable amount exists.
func candidateFrom(rec map[string]any, source core.Source, now time.Time) (Candidate, bool) {
	c := Candidate{Source: source, Category: core.CategoryOther, Date: now.UTC()}

	found := false
	for _, k := range amountKeys {
		if v, ok := lookup(rec, k); ok {
			if m, ok := parseAmount(v); ok {
				c.Amount = m
				found = true
				break
			}
		}
	}

	if s, _ := firstString(rec, categoryKeys); s != "" {
		c.Category = core.NormalizeCategory(s)
	}
	if s, _ := firstString(rec, notesKeys); s != "" {
		c.Notes = truncateNotes(s)
	}
	if s, _ := firstString(rec, dateKeys); s != "" {
		if d, err := ParseDate(s); err == nil {
			c.Date = d
		}
	}
	return c, found
}

// ParseSpreadsheetReply maps every usable record of the reply. An empty
// result means the reply shape was not recognized.
func ParseSpreadsheetReply(resp agent.Response, now time.Time) []Candidate {
	var out []Candidate
	for _, rec := range records(decode(payload(resp))) {
		if c, ok := candidateFrom(rec, core.SourceSpreadsheet, now); ok {
			out = append(out, c)
		}
	}
	return out
}

// ParseImageReply maps the first record of an OCR reply together with its
// confidence scores. ok is false when no amount could be read.
func ParseImageReply(resp agent.Response, now time.Time) (Candidate, bool) {
	recs := records(decode(payload(resp)))
	if len(recs) == 0 {
		return Candidate{}, false
	}
	rec := recs[0]
	c, ok := candidateFrom(rec, core.SourceImage, now)
	if !ok {
		return Candidate{}, false
	}

	fields := fieldConfidence(rec)
	if len(fields) > 0 {
		c.FieldConfidence = fields
	}
	if overall, ok := overallConfidence(rec); ok {
		c.Confidence = &overall
	} else if len(fields) > 0 {
		mean := meanConfidence(fields)
		c.Confidence = &mean
	}
	return c, true
}

var confidenceFields = []string{FieldAmount, FieldCategory, FieldNotes, FieldDate}

// fieldConfidence reads either {"confidence": {"amount": 0.9}} or
// {"amount_confidence": 0.9}. Notes also accept the notes aliases.
func fieldConfidence(rec map[string]any) map[string]float64 {
	out := make(map[string]float64)
	nested, _ := lookup(rec, "confidence")
	nestedMap, _ := nested.(map[string]any)

	aliases := map[string][]string{
		FieldAmount:   amountKeys,
		FieldCategory: categoryKeys,
		FieldNotes:    notesKeys,
		FieldDate:     dateKeys,
	}
	for _, field := range confidenceFields {
		for _, key := range aliases[field] {
			if nestedMap != nil {
				if v, ok := lookup(nestedMap, key); ok {
					if p, ok := percent(v); ok {
						out[field] = p
						break
					}
				}
			}
			if v, ok := lookup(rec, key+"_confidence"); ok {
				if p, ok := percent(v); ok {
					out[field] = p
					break
				}
			}
		}
	}
	return out
}

func overallConfidence(rec map[string]any) (float64, bool) {
	for _, k := range []string{"overall_confidence", "confidence"} {
		if v, ok := lookup(rec, k); ok {
			if p, ok := percent(v); ok {
				return p, true
			}
		}
	}
	return 0, false
}

// percent reads a score in [0,1] or [0,100] and returns a clamped percentage.
func percent(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case float64:
		f = t
	case string:
		d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		if err != nil {
			return 0, false
		}
		f, _ = d.Float64()
	default:
		return 0, false
	}
	if math.IsNaN(f) || f < 0 {
		return 0, false
	}
	if f <= 1 {
		f *= 100
	}
	return roundPct(math.Min(f, 100)), true
}

func roundPct(f float64) float64 {
	return math.Round(f*10) / 10
}
