package repository

import (
	"fmt"

	"sharebox/pkg/errors"
)

var supportedOps = map[string]bool{
	"==": true, "!=": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"in": true, "not-in": true,
	"array-contains": true, "array-contains-any": true,
}

// Predicate is one server-side filter clause.
type Predicate struct {
	Field string
	Op    string
	Value interface{}
}

func Eq(field string, value interface{}) Predicate {
	return Predicate{Field: field, Op: "==", Value: value}
}

func (p Predicate) Validate() error {
	if p.Field == "" {
		return errors.BadRequest("Predicate field is required", nil)
	}
	if !supportedOps[p.Op] {
		return errors.BadRequest(fmt.Sprintf("Unsupported predicate operator %q", p.Op), nil)
	}
	if p.Value == nil {
		return errors.BadRequest(fmt.Sprintf("Predicate on %s has no value", p.Field), nil)
	}
	if s, ok := p.Value.(string); ok && s == "" {
		return errors.BadRequest(fmt.Sprintf("Predicate on %s has an empty value", p.Field), nil)
	}
	return nil
}

// Query describes a filtered read of one collection. OrderBy is ascending
// and optional; ordering on a field that is not filtered needs a composite
// index, so watchers leave it empty.
type Query struct {
	Predicates []Predicate
	OrderBy    string
}

func (q Query) Validate() error {
	for _, p := range q.Predicates {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FieldUpdate patches one document as part of an atomic batch.
type FieldUpdate struct {
	CollectionPath string
	DocID          string
	Patch          map[string]interface{}
}

func (u FieldUpdate) Validate() error {
	if u.CollectionPath == "" || u.DocID == "" {
		return errors.BadRequest("Batch update needs a collection path and document id", nil)
	}
	if len(u.Patch) == 0 {
		return errors.BadRequest("Batch update for "+u.DocID+" has no fields", nil)
	}
	return nil
}
