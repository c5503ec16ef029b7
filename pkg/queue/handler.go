package queue

import (
	"context"
	"reflect"
	"strings"
)

type (
	// Handler is the executable body of a task.
	Handler interface {
		Handle(ctx context.Context, job *JobContext) error
	}

	// HandlerFunc adapts a function to Handler.
	HandlerFunc func(ctx context.Context, job *JobContext) error

	// TypedHandlerFunc receives the job arguments decoded into T.
	TypedHandlerFunc[T any] func(ctx context.Context, job *JobContext, args T) error
)

func (f HandlerFunc) Handle(ctx context.Context, job *JobContext) error {
	return f(ctx, job)
}

// paramsDeclarer is implemented by handlers that know their argument names.
type paramsDeclarer interface {
	Params() []string
}

// TypedHandler builds a Handler decoding job args into T.
// When T is a struct, its JSON field names become the declared task parameters.
func TypedHandler[T any](fn TypedHandlerFunc[T]) Handler {
	var zero T
	return &typedHandler[T]{
		params: jsonFieldNames(reflect.TypeOf(zero)),
		fn:     fn,
	}
}

type typedHandler[T any] struct {
	params []string
	fn     TypedHandlerFunc[T]
}

func (h *typedHandler[T]) Params() []string {
	return h.params
}

func (h *typedHandler[T]) Handle(ctx context.Context, job *JobContext) error {
	var args T
	if err := job.Job.DecodeArgs(&args); err != nil {
		// malformed args never decode on a later attempt
		return Permanent(err)
	}
	return h.fn(ctx, job, args)
}

func jsonFieldNames(t reflect.Type) []string {
	if t == nil {
		return nil
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	names := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		names = append(names, name)
	}
	return names
}
