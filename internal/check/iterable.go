package check

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"text/template"
)

// Checkable is implemented by values that describe themselves as a check.
type Checkable interface {
	CheckSpec() Spec
}

type eachOptions struct {
	nameTemplate *template.Template
	required     bool
	tags         []string
}

// EachOption customizes the checks generated by AddEach.
type EachOption func(*eachOptions) error

// WithNameTemplate names every generated check by executing a text/template
// against the item, for example `Run query "{{ .Query }}"`.
func WithNameTemplate(text string) EachOption {
	return func(o *eachOptions) error {
		tmpl, err := template.New("check").Option("missingkey=error").Parse(text)
		if err != nil {
			return fmt.Errorf("check: parse name template: %w", err)
		}
		o.nameTemplate = tmpl
		return nil
	}
}

// WithRequired marks every generated check as required.
func WithRequired() EachOption {
	return func(o *eachOptions) error {
		o.required = true
		return nil
	}
}

// WithTags tags every generated check.
func WithTags(tags ...string) EachOption {
	return func(o *eachOptions) error {
		if err := validateTags(tags); err != nil {
			return err
		}
		o.tags = append(o.tags, tags...)
		return nil
	}
}

// AddEach generates one check per item and appends them to c in iteration
// order, after any checks already registered.
//
// handler receives the item as its sole argument after an optional
// context.Context and returns the same shapes Define accepts. Each check
// is named from the item: its CheckSpec when it implements Checkable,
// otherwise "Check <name>" using a Name method or field, otherwise the
// item's default formatting. WithNameTemplate overrides the displayed
// name; the id is still derived from the item's own name.
func AddEach[T any](c *Collection, items []T, handler any, opts ...EachOption) error {
	var o eachOptions
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return err
		}
	}

	itemType := reflect.TypeFor[T]()
	bound, err := bindHandler(fmt.Sprintf("each %s", itemType), handler, itemType)
	if err != nil {
		return err
	}

	for _, item := range items {
		spec, err := itemSpec(item, o)
		if err != nil {
			return err
		}
		meta, err := NewResult(spec)
		if err != nil {
			return err
		}
		arg := reflect.ValueOf(&item).Elem()
		chk := &Check{
			meta: meta,
			handler: func(ctx context.Context) (any, error) {
				return bound(ctx, arg)
			},
		}
		if err := c.Add(chk); err != nil {
			return err
		}
	}
	return nil
}

func itemSpec(item any, o eachOptions) (Spec, error) {
	var spec Spec
	if checkable, ok := item.(Checkable); ok {
		spec = checkable.CheckSpec()
	} else {
		spec = Spec{Name: "Check " + itemName(item)}
	}

	if o.nameTemplate != nil {
		// Ids follow the item, not the rendered name.
		if spec.ID == "" {
			spec.ID = GenerateID(spec.Name)
		}
		var buf bytes.Buffer
		if err := o.nameTemplate.Execute(&buf, item); err != nil {
			return Spec{}, fmt.Errorf("check: render name template: %w", err)
		}
		spec.Name = buf.String()
	}
	if o.required {
		spec.Required = true
	}
	if len(o.tags) > 0 {
		spec.Tags = append(append([]string(nil), spec.Tags...), o.tags...)
	}
	return spec, nil
}

func itemName(item any) string {
	if named, ok := item.(interface{ Name() string }); ok {
		return named.Name()
	}
	v := reflect.ValueOf(item)
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if v.Kind() == reflect.Struct {
		if field := v.FieldByName("Name"); field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	return fmt.Sprint(item)
}
