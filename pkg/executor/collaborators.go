package executor

import "context"

// Messenger delivers templated messages to a contact. Implementations
// wrap provider calls and mark retryable failures with MarkTransient.
type Messenger interface {
	SendEmail(ctx context.Context, identity, template string, variables map[string]any) error
	SendSMS(ctx context.Context, identity, template string, variables map[string]any) error
}

// TagStore mutates the tag set of a contact. Both operations are
// idempotent: adding a present tag or removing an absent one succeeds.
type TagStore interface {
	AddTag(ctx context.Context, identity, tag string) error
	RemoveTag(ctx context.Context, identity, tag string) error
}

// WebhookCaller posts a JSON payload and returns the response status
// code. Transport failures return a zero status and an error.
type WebhookCaller interface {
	Post(ctx context.Context, url string, payload map[string]any) (int, error)
}

// SubjectAttributes reads the live attributes of a contact for
// condition evaluation. Reads happen at evaluation time, never from a
// snapshot taken at enrollment.
type SubjectAttributes interface {
	Attributes(ctx context.Context, identity string) (map[string]any, error)
}
