package guardian

// Record is anything with a stable identifier and named text fields.
// WithTextFields must return a new record and leave the receiver unchanged.
type Record interface {
	RecordID() string
	TextField(name string) (string, bool)
	WithTextFields(fields map[string]string) Record
}

// Subjected is implemented by records that name their data subject
// separately from their own identifier.
type Subjected interface {
	SubjectID() string
}

// MapRecord is a generic record backed by a map. Only string values are
// treated as text fields; everything else is carried through untouched.
type MapRecord struct {
	ID      string         `json:"id"`
	Subject string         `json:"subject_id,omitempty"`
	Data    map[string]any `json:"data"`
}

func (r *MapRecord) RecordID() string {
	if r == nil {
		return ""
	}
	return r.ID
}

func (r *MapRecord) SubjectID() string {
	if r == nil {
		return ""
	}
	return r.Subject
}

func (r *MapRecord) TextField(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	s, ok := r.Data[name].(string)
	return s, ok
}

func (r *MapRecord) WithTextFields(fields map[string]string) Record {
	out := &MapRecord{
		ID:      r.ID,
		Subject: r.Subject,
		Data:    make(map[string]any, len(r.Data)),
	}
	for k, v := range r.Data {
		out.Data[k] = v
	}
	for k, v := range fields {
		out.Data[k] = v
	}
	return out
}
