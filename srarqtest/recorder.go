package srarqtest

import "bytes"

// Recorder is a srarq.Application remembering every delivered payload.
type Recorder struct {
	payloads [][]byte
}

func (r *Recorder) Deliver(payload []byte) {
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
}

func (r *Recorder) Payloads() [][]byte {
	return r.payloads
}

func (r *Recorder) Len() int {
	return len(r.payloads)
}

// Strings returns the delivered payloads with their zero padding removed.
func (r *Recorder) Strings() []string {
	result := make([]string, len(r.payloads))
	for i, p := range r.payloads {
		result[i] = string(bytes.TrimRight(p, "\x00"))
	}
	return result
}
