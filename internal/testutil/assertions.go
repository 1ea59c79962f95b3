package testutil

import (
	"os"
	"reflect"
	"strings"
	"testing"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// AssertEqual asserts that two values are deeply equal.
func AssertEqual(t *testing.T, expected, actual any, msg string) {
	t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		t.Errorf("%s\nExpected: %v\nActual: %v", msg, expected, actual)
	}
}

// RequireNoError stops the test if err is not nil.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertErrorCode asserts that err carries the given DeckError code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error with code %s, got nil", code)
		return
	}
	if got := deckerrors.Code(err); got != code {
		t.Errorf("error code = %q, want %q (err: %v)", got, code, err)
	}
}

// AssertRunStatus asserts the status of a run.
func AssertRunStatus(t *testing.T, run *types.Run, expected types.RunStatus) {
	t.Helper()
	if run.Status != expected {
		t.Errorf("run %s status = %s, want %s", run.ID, run.Status, expected)
	}
}

// AssertStepStatus asserts the status of a step.
func AssertStepStatus(t *testing.T, step *types.Step, expected types.StepStatus) {
	t.Helper()
	if step.Status != expected {
		t.Errorf("step %s (%s) status = %s, want %s", step.StepID, step.ID, step.Status, expected)
	}
}

// AssertStoryStatus asserts the status of a story.
func AssertStoryStatus(t *testing.T, story *types.Story, expected types.StoryStatus) {
	t.Helper()
	if story.Status != expected {
		t.Errorf("story %s status = %s, want %s", story.StoryID, story.Status, expected)
	}
}

// AssertNoRunningStory asserts that no story is running unless the loop step
// holding it is running with that story in flight.
func AssertNoRunningStory(t *testing.T, steps []*types.Step, stories []*types.Story) {
	t.Helper()
	inFlight := make(map[string]bool)
	for _, s := range steps {
		if s.CurrentStoryID != "" {
			if s.Status != types.StepStatusRunning {
				t.Errorf("step %s is %s but holds story %s", s.StepID, s.Status, s.CurrentStoryID)
			}
			inFlight[s.CurrentStoryID] = true
		}
	}
	for _, s := range stories {
		if s.Status == types.StoryStatusRunning && !inFlight[s.ID] {
			t.Errorf("story %s is running without a step holding it", s.StoryID)
		}
	}
}

// AssertFileContains asserts that the file at path contains substring.
func AssertFileContains(t *testing.T, path, substring string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Errorf("reading %s: %v", path, err)
		return
	}
	if !strings.Contains(string(data), substring) {
		t.Errorf("%s does not contain %q", path, substring)
	}
}
