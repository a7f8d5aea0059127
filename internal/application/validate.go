package application

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
)

// reaches walks the current state of the graph from (kind, id) and reports
// whether any node on path is reachable, which is what linking id under path
// would turn into a cycle.
func (s *session) reaches(kind domain.Kind, id string, path *roaring.Bitmap) (bool, error) {
	visited := roaring.New()
	stack := []edge{{kind: kind, uuid: id}}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx := s.index(next.uuid)
		if path.Contains(idx) {
			return true, nil
		}
		if visited.Contains(idx) {
			continue
		}
		visited.Add(idx)

		doc, err := s.current(next.kind, next.uuid)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return false, err
		}
		stack = append(stack, edges(next.kind, doc.Content)...)
	}
	return false, nil
}

// conformValues checks record values against the fields of the schema the
// dataset version instantiates.
func (s *session) conformValues(dataset domain.Document, values []domain.FieldValue) error {
	if len(values) == 0 {
		return nil
	}
	if dataset.Content.Schema == nil {
		return fmt.Errorf("%w: data %s has no schema", domain.ErrInput, dataset.UUID)
	}
	schema, err := s.store.GetVersion(s.ctx, domain.KindSchema, dataset.Content.Schema.ID)
	if err != nil {
		return err
	}
	fields := make(map[string]domain.Content, len(schema.Content.Fields))
	for _, ref := range schema.Content.Fields {
		field, err := s.store.GetVersion(s.ctx, domain.KindField, ref.ID)
		if err != nil {
			return err
		}
		fields[ref.UUID] = field.Content
	}

	seen := make(map[string]bool, len(values))
	for _, v := range values {
		field, ok := fields[v.Field]
		if !ok {
			return fmt.Errorf("%w: field %s is not part of schema %s", domain.ErrInput, v.Field, schema.UUID)
		}
		if seen[v.Field] {
			return fmt.Errorf("%w: field %s has more than one value", domain.ErrInput, v.Field)
		}
		seen[v.Field] = true
		if err := checkValue(field, v); err != nil {
			return err
		}
	}
	return nil
}

func checkValue(field domain.Content, v domain.FieldValue) error {
	if field.Type == domain.FieldSelect {
		if v.Value != nil {
			return fmt.Errorf("%w: select field %s takes options, not a value", domain.ErrInput, v.Field)
		}
		if !field.Multiple && len(v.Options) > 1 {
			return fmt.Errorf("%w: field %s accepts a single option", domain.ErrInput, v.Field)
		}
		known := make(map[string]bool)
		flattenOptions(field.Options, known)
		chosen := make(map[string]bool, len(v.Options))
		for _, opt := range v.Options {
			if !known[opt] {
				return fmt.Errorf("%w: option %s is not defined on field %s", domain.ErrInput, opt, v.Field)
			}
			if chosen[opt] {
				return fmt.Errorf("%w: option %s chosen twice", domain.ErrInput, opt)
			}
			chosen[opt] = true
		}
		return nil
	}

	if len(v.Options) > 0 {
		return fmt.Errorf("%w: field %s has no options", domain.ErrInput, v.Field)
	}
	if v.Value == nil {
		return nil
	}
	ok := false
	switch field.Type {
	case domain.FieldText:
		_, ok = v.Value.(string)
	case domain.FieldNumber:
		switch v.Value.(type) {
		case float64, float32, int, int64, json.Number:
			ok = true
		}
	case domain.FieldCheckbox:
		_, ok = v.Value.(bool)
	case domain.FieldDate:
		if raw, isString := v.Value.(string); isString {
			ok = parseDate(raw)
		}
	}
	if !ok {
		return fmt.Errorf("%w: value of field %s is not a valid %s", domain.ErrInput, v.Field, field.Type)
	}
	return nil
}

func flattenOptions(options []domain.FieldOption, into map[string]bool) {
	for _, opt := range options {
		into[opt.UUID] = true
		flattenOptions(opt.Options, into)
	}
}

func parseDate(raw string) bool {
	if _, err := time.Parse(time.RFC3339, raw); err == nil {
		return true
	}
	_, err := time.Parse(time.DateOnly, raw)
	return err == nil
}
