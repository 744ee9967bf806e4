package model

// Record modules used by the workflow.
const (
	ModuleContacts = "Contacts"
	ModuleTasks    = "Tasks"
	ModuleMatches  = "Matches"
)

// Record is a document in the external record store.
type Record struct {
	ID     string         `json:"id"`
	Module string         `json:"module"`
	Fields map[string]any `json:"fields"`
	Tags   []string       `json:"tags"`
}

// Bool returns Fields[key] as a bool. Missing or non-bool values are false.
func (r *Record) Bool(key string) bool {
	if r == nil {
		return false
	}
	v, _ := r.Fields[key].(bool)
	return v
}

// String returns Fields[key] as a string, or "".
func (r *Record) String(key string) string {
	if r == nil {
		return ""
	}
	v, _ := r.Fields[key].(string)
	return v
}
