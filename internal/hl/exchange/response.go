package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrRejected = errors.New("exchange rejected action")

// Response is the /exchange reply. On failure Status is "err" and the body is
// a plain message; on success it carries the action type and, for orders and
// cancels, one status per element.
type Response struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type okBody struct {
	Type string `json:"type"`
	Data struct {
		Statuses []json.RawMessage `json:"statuses"`
	} `json:"data"`
}

type OrderRef struct {
	Oid   int64  `json:"oid"`
	Cloid string `json:"cloid,omitempty"`
}

type FilledRef struct {
	Oid     int64  `json:"oid"`
	Cloid   string `json:"cloid,omitempty"`
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
}

// Status is one element of a statuses array. Cancels answer with the bare
// string "success".
type Status struct {
	Success bool
	Resting *OrderRef
	Filled  *FilledRef
	Error   string
}

func (s *Status) UnmarshalJSON(raw []byte) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		s.Success = text == "success"
		if !s.Success {
			s.Error = text
		}
		return nil
	}
	var body struct {
		Resting *OrderRef  `json:"resting"`
		Filled  *FilledRef `json:"filled"`
		Error   string     `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return err
	}
	s.Resting = body.Resting
	s.Filled = body.Filled
	s.Error = body.Error
	s.Success = body.Error == "" && (body.Resting != nil || body.Filled != nil)
	return nil
}

func (r Response) Statuses() ([]Status, error) {
	if r.Status != "ok" {
		return nil, r.Err()
	}
	var body okBody
	if len(r.Response) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(r.Response, &body); err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	out := make([]Status, 0, len(body.Data.Statuses))
	for _, raw := range body.Data.Statuses {
		var st Status
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Err reports a top-level rejection or the first per-element error.
func (r Response) Err() error {
	if r.Status != "ok" {
		var msg string
		if err := json.Unmarshal(r.Response, &msg); err != nil {
			msg = string(r.Response)
		}
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	statuses, err := r.Statuses()
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if st.Error != "" {
			return fmt.Errorf("%w: %s", ErrRejected, st.Error)
		}
	}
	return nil
}

// OrderID returns the venue order id of the first resting or filled status.
func (r Response) OrderID() string {
	statuses, err := r.Statuses()
	if err != nil {
		return ""
	}
	for _, st := range statuses {
		switch {
		case st.Resting != nil:
			return strconv.FormatInt(st.Resting.Oid, 10)
		case st.Filled != nil:
			return strconv.FormatInt(st.Filled.Oid, 10)
		}
	}
	return ""
}
