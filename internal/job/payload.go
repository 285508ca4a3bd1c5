// SPDX-License-Identifier: MIT

package job

import "encoding/json"

// Payload is the opaque document attached to a job at submission. It is
// persisted verbatim; the orchestrator itself only reads and annotates the
// user_id and credits_cost keys.
type Payload map[string]any

const (
	payloadUserID      = "user_id"
	payloadCreditsCost = "credits_cost"
	payloadRequest     = "request"
)

// Clone returns a shallow copy with the top-level map duplicated, so
// annotations on the copy do not leak into the caller's map.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// UserID returns the annotated user, or "" when absent.
func (p Payload) UserID() string {
	s, _ := p[payloadUserID].(string)
	return s
}

// SetUserID annotates the payload with the submitting user.
func (p Payload) SetUserID(id string) {
	p[payloadUserID] = id
}

// CreditsCost returns the debited amount annotated at submission, or 0.
// Values survive a JSON round trip, so numeric types vary.
func (p Payload) CreditsCost() int64 {
	switch v := p[payloadCreditsCost].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// SetCreditsCost annotates the payload with the amount debited for the job.
func (p Payload) SetCreditsCost(amount int64) {
	p[payloadCreditsCost] = amount
}

// Request returns the submitter's request document. Payloads written by the
// submission API nest it under "request"; legacy rows carry the fields at
// the top level, in which case the payload itself is returned.
func (p Payload) Request() map[string]any {
	if req, ok := p[payloadRequest].(map[string]any); ok {
		return req
	}
	return p
}

// Text returns the tts input text, or "" when absent.
func (p Payload) Text() string {
	s, _ := p.Request()["text"].(string)
	return s
}

// Decode re-marshals the request document into dst, which must be a pointer
// to a struct with json tags. It is how handlers obtain typed access to the
// opaque request.
func (p Payload) Decode(dst any) error {
	raw, err := json.Marshal(p.Request())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
