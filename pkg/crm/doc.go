// Package crm defines the source and destination record shapes for each
// migrated entity and the pure functions that map one to the other.
//
// Source records follow the source CRM's REST field names (First_Name,
// Due_Date, ...); destination records follow the destination's bulk-create
// payload (name.firstName, dueAt, ...). Every destination record carries a
// 1-based Position that the caller supplies; mappers never infer it.
//
// Mapping is total: unknown statuses and unparseable dates fall back to
// defaults instead of failing, and nothing in this package performs I/O or
// logs.
//
// Example usage:
//
//	contacts := crm.Contacts()
//	person := contacts.Map(src, 1)
//
//	tasks := crm.Tasks(time.Now)
//	task := tasks.Map(srcTask, 42)
package crm
