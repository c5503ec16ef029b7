package queue

import "context"

// Query is a named, parameterized statement.
// SQL backends execute SQL; the in-memory connector dispatches on Name.
type Query struct {
	Name string
	SQL  string
}

// Row is a single result row keyed by column name.
type Row map[string]any

// NotifyHandler is invoked once per received notification with its payload.
type NotifyHandler func(ctx context.Context, payload string)

// Connector is the blocking storage contract used by the job manager and workers.
// Implementations must translate driver failures into *ConnectorError and return
// ErrAppNotOpen from query and listen calls made before Open.
type Connector interface {
	Open(ctx context.Context) error
	// Close is idempotent.
	Close(ctx context.Context) error
	Execute(ctx context.Context, q Query, args ...any) error
	// QueryOne returns exactly one row, or an error wrapping ErrNoRows when there is none.
	QueryOne(ctx context.Context, q Query, args ...any) (Row, error)
	QueryAll(ctx context.Context, q Query, args ...any) ([]Row, error)
	// ListenNotify blocks, invoking handler for every notification on channel, until ctx is done.
	ListenNotify(ctx context.Context, channel string, handler NotifyHandler) error
}

// SchemaApplier is implemented by connectors able to install the job schema.
type SchemaApplier interface {
	ApplySchema(ctx context.Context) error
}

// SchemaInspector is implemented by connectors able to describe the job schema.
type SchemaInspector interface {
	SchemaSQL() string
}

// missingConnector stands in when an App is built without a connector.
// Opening and closing succeed so that lifecycle code runs; any real use fails with ErrMissingApp.
type missingConnector struct{}

func (missingConnector) Open(context.Context) error  { return nil }
func (missingConnector) Close(context.Context) error { return nil }

func (missingConnector) Execute(context.Context, Query, ...any) error {
	return ErrMissingApp
}

func (missingConnector) QueryOne(context.Context, Query, ...any) (Row, error) {
	return nil, ErrMissingApp
}

func (missingConnector) QueryAll(context.Context, Query, ...any) ([]Row, error) {
	return nil, ErrMissingApp
}

func (missingConnector) ListenNotify(context.Context, string, NotifyHandler) error {
	return ErrMissingApp
}

// IsMissing reports whether c is the stand-in used when no connector is configured.
func IsMissing(c Connector) bool {
	_, ok := c.(missingConnector)
	return ok
}
