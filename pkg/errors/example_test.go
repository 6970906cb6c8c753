package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/tap-tilroy/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeConfig, "api_url is required").
		WithDetail("field", "api_url")

	fmt.Println(err.Error())

	// Output:
	// config: api_url is required
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeFile, "failed to read state file")

	if errors.IsType(err, errors.ErrorTypeFile) {
		fmt.Println("This is a file error")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Original error was unexpected EOF")
	}

	// Output:
	// This is a file error
	// Original error was unexpected EOF
}

// ExampleFetchError shows how request failures are classified.
func ExampleFetchError() {
	err := &errors.FetchError{Kind: errors.FetchServerError, Stream: "sales", StatusCode: 503, Attempts: 4}

	fmt.Println(err)
	fmt.Println(errors.IsRetryable(err))
	fmt.Println(errors.KindOf(fmt.Errorf("page 3: %w", err)))

	// Output:
	// fetch SERVER_ERROR (stream sales) status 503 after 4 attempts
	// true
	// SERVER_ERROR
}
