// Package memory defines the document schemas persisted in the store:
// the user profile, individual todo items, and the free-text todo
// instructions. Field tags double as the extraction tool schemas.
package memory

import "time"

// Connection is a person in the user's life.
type Connection struct {
	Name     string `json:"name" jsonschema_description:"The person's name."`
	Relation string `json:"relation" jsonschema_description:"Relationship to the user, e.g. friend, sister, coworker."`
}

// Profile is the single evolving record of what is known about the user.
// It is patched over time and never deleted.
type Profile struct {
	Name        string       `json:"name,omitempty" jsonschema_description:"The user's name."`
	Location    string       `json:"location,omitempty" jsonschema_description:"The user's location."`
	Job         string       `json:"job,omitempty" jsonschema_description:"The user's job."`
	Connections []Connection `json:"connections,omitempty" jsonschema_description:"People in the user's life."`
	Interests   []string     `json:"interests,omitempty" jsonschema_description:"Interests the user has."`
}

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	StatusNotStarted TodoStatus = "not started"
	StatusInProgress TodoStatus = "in progress"
	StatusDone       TodoStatus = "done"
	StatusArchived   TodoStatus = "archived"
)

// Valid reports whether s is one of the four lifecycle states.
func (s TodoStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusDone, StatusArchived:
		return true
	}
	return false
}

// Todo is one task. Re-describing an already-stored task patches the
// existing record; dedup against existing records is the extractor's job.
type Todo struct {
	Task                  string            `json:"task" jsonschema_description:"The task to be completed."`
	TimeToCompleteMinutes int               `json:"time_to_complete,omitempty" jsonschema_description:"Estimated minutes to complete the task."`
	Deadline              *time.Time        `json:"deadline,omitempty" jsonschema_description:"When the task needs to be completed by, if applicable."`
	Solutions             []string          `json:"solutions,omitempty" jsonschema_description:"Concrete, actionable solutions, specific to the user's context."`
	Status                TodoStatus        `json:"status" jsonschema_description:"Current status: not started, in progress, done or archived."`
	SolutionMetadata      map[string]string `json:"solution_metadata,omitempty" jsonschema_description:"Optional metadata linking the task to external solutions."`
}

// Instructions is the free-text preference memory for how todos should be
// managed. It lives at a fixed key and is fully overwritten on update.
type Instructions struct {
	Memory string `json:"memory"`
}

// InstructionsKey is the fixed store key for the instructions record.
const InstructionsKey = "user_instructions"

// Schema tool names the extractor exposes to the model.
const (
	ProfileSchemaName = "Profile"
	TodoSchemaName    = "ToDo"
)
