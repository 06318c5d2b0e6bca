package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/andresmejia3/facescan/internal/face"
	"github.com/andresmejia3/facescan/internal/types"
	"github.com/spf13/cobra"
)

// encodingResponse is the success payload of extract-encoding.
type encodingResponse struct {
	Success  bool            `json:"success"`
	Encoding types.Embedding `json:"encoding"`
}

// resultsResponse is the success payload of process-video. Results is never null.
type resultsResponse struct {
	Success bool               `json:"success"`
	Results []types.MatchEvent `json:"results"`
}

// failureResponse is the payload every JSON command emits when it fails.
type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeFailure(w io.Writer, err error) error {
	return writeJSON(w, failureResponse{Success: false, Error: errorMessage(err)})
}

// errorMessage is the text reported to callers for a failed command.
func errorMessage(err error) string {
	if errors.Is(err, face.ErrNoFaceFound) {
		return "No face found"
	}
	return err.Error()
}

// usageError marks a malformed invocation.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func isUsageError(err error) bool {
	var ue *usageError
	return errors.As(err, &ue)
}

// exactArgs is cobra.ExactArgs reporting its failure as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	check := cobra.ExactArgs(n)
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}
