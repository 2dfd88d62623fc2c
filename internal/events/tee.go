package events

import "errors"

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(EventType, interface{}) {}
func (Discard) Close() error { return nil }

// Tee forwards every event to each of its emitters in order.
type Tee []Emitter

// Emit forwards the event.
func (t Tee) Emit(eventType EventType, data interface{}) {
	for _, e := range t {
		e.Emit(eventType, data)
	}
}

// Close closes every emitter and joins their errors.
func (t Tee) Close() error {
	var errs []error
	for _, e := range t {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every event in memory.
type Recorder struct {
	Events []Envelope
}

// Emit appends the event.
func (r *Recorder) Emit(eventType EventType, data interface{}) {
	r.Events = append(r.Events, Envelope{Type: eventType, Data: data})
}

// Close does nothing and returns nil.
func (r *Recorder) Close() error { return nil }

// OfType returns the payloads of every recorded event of the given type.
func (r *Recorder) OfType(eventType EventType) []interface{} {
	var out []interface{}
	for _, e := range r.Events {
		if e.Type == eventType {
			out = append(out, e.Data)
		}
	}
	return out
}
