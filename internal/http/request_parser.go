// Package http provides HTTP server and handler implementations.
//
// This file turns form-encoded and JSON request bodies into a settlement
// group. Form bodies come from the HTMX page; JSON bodies from API clients.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"dividi/internal/core"
)

const (
	maxBodyBytes    = 64 << 10
	maxParticipants = 200
	maxNameLength   = 100
)

// RequestError describes why a request body could not be turned into a
// group. Status is 400 for malformed bodies and 422 for bad field values.
type RequestError struct {
	Status  int
	Field   string
	Message string
}

func (e *RequestError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func malformed(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func invalidField(field, format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusUnprocessableEntity, Field: field, Message: fmt.Sprintf(format, args...)}
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    *groupRequest
	formData    url.Values
	parsed      bool
	err         error
}

type groupRequest struct {
	Total        json.RawMessage      `json:"total"`
	Participants []participantRequest `json:"participants"`
}

type participantRequest struct {
	Name string          `json:"name"`
	Paid json.RawMessage `json:"paid"`
}

// NewRequestBodyParser creates a parser for the given request.
// It reads the body once, up to maxBodyBytes.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}

	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = malformed("request body exceeds %d bytes", maxBodyBytes)
	}
	return p
}

// Parse decodes the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		var reqErr *RequestError
		if !errors.As(p.err, &reqErr) {
			p.err = malformed("could not read request body")
		}
		return p.err
	}

	if p.looksLikeJSON() {
		var req groupRequest
		dec := json.NewDecoder(bytes.NewReader(p.body))
		if err := dec.Decode(&req); err != nil {
			p.err = malformed("invalid JSON body: %v", err)
			return p.err
		}
		p.jsonData = &req
		return nil
	}

	form, err := url.ParseQuery(string(p.body))
	if err != nil {
		p.err = malformed("invalid form body")
		return p.err
	}
	p.formData = form
	return nil
}

func (p *RequestBodyParser) looksLikeJSON() bool {
	if strings.HasPrefix(strings.ToLower(p.contentType), "application/json") {
		return true
	}
	trimmed := bytes.TrimSpace(p.body)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// Group builds the settlement group from the parsed body. Blank names are
// kept blank; the service fills in defaults.
func (p *RequestBodyParser) Group() (core.Group, error) {
	if err := p.Parse(); err != nil {
		return core.Group{}, err
	}
	if p.jsonData != nil {
		return groupFromJSON(p.jsonData)
	}
	return groupFromForm(p.formData)
}

// ParseGroup reads a settlement group from the request body.
func ParseGroup(r *http.Request) (core.Group, bool, error) {
	p := NewRequestBodyParser(r)
	g, err := p.Group()
	return g, p.IsJSON(), err
}

func groupFromJSON(req *groupRequest) (core.Group, error) {
	total, err := jsonAmount(req.Total, "total")
	if err != nil {
		return core.Group{}, err
	}
	if len(req.Participants) > maxParticipants {
		return core.Group{}, invalidField("participants", "at most %d participants are allowed", maxParticipants)
	}

	g := core.Group{Total: total, Participants: make([]core.Participant, 0, len(req.Participants))}
	for i, pr := range req.Participants {
		name, err := participantName(pr.Name, i)
		if err != nil {
			return core.Group{}, err
		}
		paid, err := jsonAmount(pr.Paid, fmt.Sprintf("participants[%d].paid", i))
		if err != nil {
			return core.Group{}, err
		}
		g.Participants = append(g.Participants, core.Participant{Name: name, Paid: paid})
	}
	return g, nil
}

// jsonAmount accepts a JSON number or a string using either decimal
// separator. Negative numbers pass through so the engine can reject them.
func jsonAmount(raw json.RawMessage, field string) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, invalidField(field, "is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, invalidField(field, "invalid amount")
		}
		v, err := core.ParseAmount(s)
		if err != nil {
			return 0, invalidField(field, "invalid amount %q", s)
		}
		return v, nil
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, invalidField(field, "invalid amount %s", raw)
	}
	return v, nil
}

// groupFromForm accepts repeated name/paid fields or numbered
// name_N/paid_N fields. Rows where both values are blank are skipped and a
// blank amount next to a name counts as zero.
func groupFromForm(form url.Values) (core.Group, error) {
	totalStr := strings.TrimSpace(form.Get("total"))
	if totalStr == "" {
		return core.Group{}, invalidField("total", "is required")
	}
	total, err := core.ParseAmount(totalStr)
	if err != nil {
		return core.Group{}, invalidField("total", "invalid amount %q", totalStr)
	}

	names, paids := formRows(form)
	if len(names) > maxParticipants {
		return core.Group{}, invalidField("participants", "at most %d participants are allowed", maxParticipants)
	}

	g := core.Group{Total: total, Participants: make([]core.Participant, 0, len(names))}
	for i := range names {
		rawName := sanitizeInput(names[i])
		rawPaid := strings.TrimSpace(paids[i])
		if rawName == "" && rawPaid == "" {
			continue
		}
		pos := len(g.Participants)
		name, err := participantName(rawName, pos)
		if err != nil {
			return core.Group{}, err
		}
		var paid float64
		if rawPaid != "" {
			paid, err = core.ParseAmount(rawPaid)
			if err != nil {
				return core.Group{}, invalidField(fmt.Sprintf("paid_%d", pos+1), "invalid amount %q", rawPaid)
			}
		}
		g.Participants = append(g.Participants, core.Participant{Name: name, Paid: paid})
	}
	return g, nil
}

// formRows returns aligned name and paid columns.
func formRows(form url.Values) (names, paids []string) {
	if form.Has("name") || form.Has("paid") {
		return alignColumns(form["name"], form["paid"])
	}

	seen := make(map[int]bool)
	var indexes []int
	for key := range form {
		var suffix string
		switch {
		case strings.HasPrefix(key, "name_"):
			suffix = strings.TrimPrefix(key, "name_")
		case strings.HasPrefix(key, "paid_"):
			suffix = strings.TrimPrefix(key, "paid_")
		default:
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 || seen[n] {
			continue
		}
		seen[n] = true
		indexes = append(indexes, n)
	}
	slices.Sort(indexes)

	for _, n := range indexes {
		names = append(names, form.Get("name_"+strconv.Itoa(n)))
		paids = append(paids, form.Get("paid_"+strconv.Itoa(n)))
	}
	return names, paids
}

func alignColumns(names, paids []string) ([]string, []string) {
	n := max(len(names), len(paids))
	outNames := make([]string, n)
	outPaids := make([]string, n)
	copy(outNames, names)
	copy(outPaids, paids)
	return outNames, outPaids
}

func participantName(raw string, pos int) (string, error) {
	name := sanitizeInput(raw)
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", invalidField(fmt.Sprintf("name_%d", pos+1), "must be at most %d characters", maxNameLength)
	}
	return name, nil
}

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *HTMXResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}

// RequireGET is a convenience function for read-only handlers.
func RequireGET(r *http.Request) *HTMXResponseBuilder {
	return RequireMethod(r, http.MethodGet, http.MethodHead)
}
