package sundaews

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateOperation is returned when registering an operation id that
// already has a record.
var ErrDuplicateOperation = errors.New("operation already registered")

// Record is an active subscription of one connection.
type Record struct {
	OperationID  string
	ConnectionID string
	Groups       []string
	Operation    *Operation

	op *operation
}

// Registry maps the operation ids of one connection to their subscription
// records and tracks how many records reference each group. It is not safe
// for concurrent use; Dispatcher serializes access.
type Registry struct {
	records map[string]*Record
	refs    map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		refs:    make(map[string]int),
	}
}

// Register stores the record and returns the groups it is the first to
// reference.
func (r *Registry) Register(record *Record) ([]string, error) {
	if _, ok := r.records[record.OperationID]; ok {
		return nil, fmt.Errorf("operation %v: %w", record.OperationID, ErrDuplicateOperation)
	}

	record.Groups = uniqueGroups(record.Groups)
	r.records[record.OperationID] = record

	var joined []string
	for _, g := range record.Groups {
		r.refs[g]++
		if r.refs[g] == 1 {
			joined = append(joined, g)
		}
	}
	return joined, nil
}

// Unregister removes the record for id and returns the groups no longer
// referenced by any record. Unknown ids are ignored.
func (r *Registry) Unregister(id string) []string {
	record, ok := r.records[id]
	if !ok {
		return nil
	}
	delete(r.records, id)

	var freed []string
	for _, g := range record.Groups {
		r.refs[g]--
		if r.refs[g] <= 0 {
			delete(r.refs, g)
			freed = append(freed, g)
		}
	}
	return freed
}

// Lookup returns the record for id.
func (r *Registry) Lookup(id string) (*Record, bool) {
	record, ok := r.records[id]
	return record, ok
}

// RecordsForGroup returns the records that joined group, ordered by
// operation id.
func (r *Registry) RecordsForGroup(group string) []*Record {
	if r.refs[group] == 0 {
		return nil
	}
	var records []*Record
	for _, record := range r.records {
		for _, g := range record.Groups {
			if g == group {
				records = append(records, record)
				break
			}
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].OperationID < records[j].OperationID
	})
	return records
}

// Groups returns every group referenced by at least one record.
func (r *Registry) Groups() []string {
	groups := make([]string, 0, len(r.refs))
	for g := range r.refs {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// IDs returns the operation ids with a record.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	return len(r.records)
}

func uniqueGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
