// Package model defines the REST / websocket API types and their conversion
// to and from the scheduler's types.
package model

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/masteryhub/grader/exercise"
	"github.com/masteryhub/grader/harness"
	"github.com/masteryhub/grader/worker"
)

// Request is one grading submission as received over the wire.
type Request struct {
	RequestID  string `json:"request_id"`
	CallerID   string `json:"caller_id"`
	ExerciseID string `json:"exercise_id"`
	Code       string `json:"code"`
}

// Response carries one grading outcome back to the client.
type Response struct {
	RequestID string                 `json:"request_id"`
	Result    *harness.GradingResult `json:"result"`
}

// Progress is a per-test streaming event on the websocket endpoint.
type Progress struct {
	RequestID  string               `json:"request_id"`
	ExerciseID string               `json:"exercise_id"`
	TestCaseID string               `json:"test_case_id"`
	Index      int                  `json:"index"`
	Total      int                  `json:"total"`
	Verdict    *harness.TestVerdict `json:"verdict,omitempty"`
}

// TestCaseView is the author-safe projection of a test case: hidden cases
// expose neither input nor expected output.
type TestCaseView struct {
	ID             string `json:"id"`
	Hidden         bool   `json:"hidden"`
	Weight         int    `json:"weight"`
	Input          string `json:"input,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
}

// ExerciseView is the public projection of an exercise definition.
type ExerciseView struct {
	ID             string                  `json:"id"`
	SourceTemplate string                  `json:"source_template,omitempty"`
	Comparator     exercise.ComparatorKind `json:"comparator"`
	Limits         exercise.LimitPolicy    `json:"limits"`
	TestCases      []TestCaseView          `json:"test_cases"`
}

// ConvertRequest validates req against the store and produces a scheduler
// request. A missing request id is generated; caller id falls back to the
// transport identity the handler supplies.
func ConvertRequest(req *Request, store *exercise.Store, fallbackCaller string) (*worker.Request, error) {
	if req.ExerciseID == "" {
		return nil, fmt.Errorf("no exercise_id provided")
	}
	ex, ok := store.Get(req.ExerciseID)
	if !ok {
		return nil, fmt.Errorf("unknown exercise %q", req.ExerciseID)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	caller := req.CallerID
	if caller == "" {
		caller = fallbackCaller
	}
	return &worker.Request{
		RequestID: req.RequestID,
		CallerID:  caller,
		Exercise:  ex,
		Code:      req.Code,
	}, nil
}

// ConvertResponse projects a scheduler response onto the wire type.
func ConvertResponse(resp worker.Response) Response {
	return Response{RequestID: resp.RequestID, Result: resp.Result}
}

// ConvertExercise redacts ex for display to students.
func ConvertExercise(ex *exercise.Exercise) ExerciseView {
	v := ExerciseView{
		ID:             ex.ID,
		SourceTemplate: ex.SourceTemplate,
		Comparator:     ex.Comparator,
		Limits:         ex.Limits,
		TestCases:      make([]TestCaseView, 0, len(ex.TestCases)),
	}
	for _, tc := range ex.TestCases {
		tv := TestCaseView{ID: tc.ID, Hidden: tc.Hidden, Weight: tc.Weight}
		if !tc.Hidden {
			tv.Input = tc.Input
			tv.ExpectedOutput = tc.ExpectedOutput
		}
		v.TestCases = append(v.TestCases, tv)
	}
	return v
}
