package types

import (
	"context"
)

// PageExecutor runs JavaScript in a rendered page and returns the script's
// completion value.
type PageExecutor interface {
	ExecuteJavaScript(ctx context.Context, code string) (any, error)
}

// FileService is the file I/O collaborator. The patch applicator is the only
// caller that writes.
type FileService interface {
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
	Getwd() (string, error)
}

// MessageSink receives user-visible, plain-language system messages.
type MessageSink interface {
	SystemMessage(ctx context.Context, text string)
}

// MessageFunc adapts a function to MessageSink.
type MessageFunc func(ctx context.Context, text string)

// SystemMessage implements MessageSink.
func (f MessageFunc) SystemMessage(ctx context.Context, text string) {
	f(ctx, text)
}
