package crm

import "time"

// Entity names accepted on the command line and in configuration.
const (
	EntityContacts = "contacts"
	EntityTasks    = "tasks"
)

// DefaultRecordsField is the top-level field holding the record array in
// source list responses.
const DefaultRecordsField = "data"

// KnownEntities lists the supported entities in migration order.
var KnownEntities = []string{EntityContacts, EntityTasks}

// MapFunc converts one source record into one destination record.
// position is the record's 1-based index in the full fetched set.
type MapFunc[S, D any] func(src S, position int) D

// Entity describes how one record type travels from source to destination.
type Entity[S, D any] struct {
	// Name identifies the entity in logs, metrics and progress records.
	Name string

	// SourcePath is the list endpoint on the source API.
	SourcePath string

	// DestinationPath is the bulk-create endpoint on the destination API.
	DestinationPath string

	// RecordsField is the top-level JSON field of the source response holding the records.
	RecordsField string

	Map MapFunc[S, D]
}

// Contacts returns the contact -> person entity.
func Contacts() Entity[SourceContact, Person] {
	return Entity[SourceContact, Person]{
		Name:            EntityContacts,
		SourcePath:      "/crm/v2/Contacts",
		DestinationPath: "/batch/people",
		RecordsField:    DefaultRecordsField,
		Map:             MapContact,
	}
}

// Tasks returns the task entity. now supplies the fallback due date for
// records whose due date cannot be parsed.
func Tasks(now func() time.Time) Entity[SourceTask, Task] {
	if now == nil {
		now = time.Now
	}
	return Entity[SourceTask, Task]{
		Name:            EntityTasks,
		SourcePath:      "/crm/v2/Tasks",
		DestinationPath: "/batch/tasks",
		RecordsField:    DefaultRecordsField,
		Map:             NewTaskMapper(now),
	}
}

// IsKnownEntity reports whether name is a supported entity.
func IsKnownEntity(name string) bool {
	for _, known := range KnownEntities {
		if name == known {
			return true
		}
	}
	return false
}
