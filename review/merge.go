package review

import (
	"fmt"
	"reflect"
	"time"
)

// Update is a partial update to a ReviewState, produced by one orchestrator
// step. Replace-policy fields are pointers so "unset" and "set to zero" stay
// distinguishable; append and sum fields use their natural types.
type Update struct {
	Metadata     *ChangeMetadata
	Diff         *string
	ChangedFiles *[]string

	Memory         *map[string]any
	SimilarChanges *[]SimilarChange
	Conventions    *[]string

	Plan *Plan

	Verdicts           []Verdict
	SpecialistsSpawned []string

	TokensUsed   int
	TotalCostUSD float64

	OrchestrationMeta *map[string]SpecialistMeta

	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Apply merges an Update into the state according to each field's declared
// merge policy. The policy is read from the `merge` struct tag on ReviewState
// so that per-field logic cannot drift across steps.
func Apply(state *ReviewState, u Update) error {
	sv := reflect.ValueOf(state).Elem()
	st := sv.Type()
	uv := reflect.ValueOf(u)

	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		policy := field.Tag.Get("merge")
		if policy == "" {
			return fmt.Errorf("field %s has no merge policy", field.Name)
		}

		uf := uv.FieldByName(field.Name)
		if !uf.IsValid() {
			return fmt.Errorf("update has no field %s", field.Name)
		}

		target := sv.Field(i)

		switch policy {
		case "replace":
			if err := applyReplace(target, uf); err != nil {
				return fmt.Errorf("field %s: %w", field.Name, err)
			}
		case "append":
			if uf.Kind() != reflect.Slice {
				return fmt.Errorf("field %s: append policy requires a slice update", field.Name)
			}
			if uf.Len() > 0 {
				target.Set(reflect.AppendSlice(target, uf))
			}
		case "sum":
			switch uf.Kind() {
			case reflect.Int, reflect.Int64:
				target.SetInt(target.Int() + uf.Int())
			case reflect.Float64:
				target.SetFloat(target.Float() + uf.Float())
			default:
				return fmt.Errorf("field %s: sum policy requires a numeric update", field.Name)
			}
		default:
			return fmt.Errorf("field %s: unknown merge policy %q", field.Name, policy)
		}
	}

	return nil
}

// applyReplace sets target from a pointer-typed update field when non-nil.
func applyReplace(target, uf reflect.Value) error {
	if uf.Kind() != reflect.Pointer {
		return fmt.Errorf("replace policy requires a pointer update, got %s", uf.Kind())
	}
	if uf.IsNil() {
		return nil
	}
	if target.Kind() == reflect.Pointer {
		// Target is itself a pointer (e.g. *Plan); replace it wholesale.
		target.Set(uf)
		return nil
	}
	target.Set(uf.Elem())
	return nil
}
