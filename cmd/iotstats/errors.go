package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ThisIsMelika/statistical-analysis/evaluation"
	"github.com/ThisIsMelika/statistical-analysis/pkg/flow"
)

// errStepsFailed marks a run that finished with failed steps. The report and
// artifacts are still written.
var errStepsFailed = errors.New("analysis finished with failed steps")

// userFriendlyError decorates an error with context and hints for the terminal.
type userFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e userFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e userFriendlyError) Unwrap() error {
	return e.Err
}

func wrapConfigError(err error, path string) error {
	if err == nil {
		return nil
	}
	where := path
	if where == "" {
		where = "configuration"
	}
	return userFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", where),
		Reason:  err.Error(),
		Hint:    "Settings can also be overridden with IOTSTATS_* environment variables",
		Try:     "iotstats config init --path iotstats.yaml",
		Err:     err,
	}
}

// wrapDatasetError reports a load failure. Schema violations are surfaced as
// an evaluation.InputError wrapping the flow.SchemaError.
func wrapDatasetError(err error, path string) error {
	if err == nil {
		return nil
	}
	var schemaErr *flow.SchemaError
	if errors.As(err, &schemaErr) {
		return userFriendlyError{
			Message: fmt.Sprintf("Dataset %s does not match the flow schema", path),
			Reason:  schemaErr.Error(),
			Hint:    "Expected columns: " + strings.Join(flow.Header, ", "),
			Try:     "iotstats generate --out sample.csv to see a valid file",
			Err:     &evaluation.InputError{Field: "dataset", Reason: schemaErr.Reason, Err: schemaErr},
		}
	}
	return userFriendlyError{
		Message: fmt.Sprintf("Failed to load dataset %s", path),
		Reason:  err.Error(),
		Err:     err,
	}
}
