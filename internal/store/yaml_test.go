package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/logging"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

func openYAML(t *testing.T, path string) *YAMLStore {
	t.Helper()
	s, err := NewYAMLStore(path, logging.NewForTest())
	if err != nil {
		t.Fatalf("NewYAMLStore failed: %v", err)
	}
	return s
}

func TestYAMLStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	first := openYAML(t, path)
	seed(t, first, func(tx Tx) error {
		if err := tx.InsertRun(newRun("run-1", base)); err != nil {
			return err
		}
		st := newStep("step-1", "run-1", "dev", 1, types.StepStatusRunning)
		st.CurrentStoryID = "story-1"
		return tx.InsertStep(st)
	})

	second := openYAML(t, path)
	second.View(context.Background(), func(tx Tx) error {
		step, err := tx.Step("step-1")
		if err != nil {
			t.Fatalf("Step after reopen: %v", err)
		}
		if step.CurrentStoryID != "story-1" || !step.UpdatedAt.Equal(base) {
			t.Errorf("step = %+v", step)
		}
		return nil
	})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}
	if !strings.Contains(string(data), "version: 1") {
		t.Errorf("snapshot missing version header:\n%s", data)
	}
}

func TestYAMLStore_SeesWritesFromOtherInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	a := openYAML(t, path)
	b := openYAML(t, path)

	seed(t, a, func(tx Tx) error { return tx.InsertRun(newRun("run-1", base)) })
	// b has a cached empty snapshot and must notice the new file version.
	seed(t, b, func(tx Tx) error {
		run, err := tx.Run("run-1")
		if err != nil {
			return err
		}
		run.Status = types.RunStatusCancelled
		_, err = tx.UpdateRun(run, types.RunStatusRunning)
		return err
	})

	a.View(context.Background(), func(tx Tx) error {
		run, _ := tx.Run("run-1")
		if run.Status != types.RunStatusCancelled {
			t.Errorf("status = %s, want cancelled", run.Status)
		}
		return nil
	})
}

func TestYAMLStore_RecoverInterruptedWrite(t *testing.T) {
	t.Run("promotes temp when main is missing", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.yaml")
		src := openYAML(t, path)
		seed(t, src, func(tx Tx) error { return tx.InsertRun(newRun("run-1", base)) })

		if err := os.Rename(path, path+".tmp"); err != nil {
			t.Fatalf("rename: %v", err)
		}

		s := openYAML(t, path)
		s.View(context.Background(), func(tx Tx) error {
			if _, err := tx.Run("run-1"); err != nil {
				t.Errorf("run lost after recovery: %v", err)
			}
			return nil
		})
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Error("temp file should be gone")
		}
	})

	t.Run("removes orphaned temp", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.yaml")
		src := openYAML(t, path)
		seed(t, src, func(tx Tx) error { return tx.InsertRun(newRun("run-1", base)) })

		if err := os.WriteFile(path+".tmp", []byte("garbage: ["), 0644); err != nil {
			t.Fatalf("write tmp: %v", err)
		}

		s := openYAML(t, path)
		s.View(context.Background(), func(tx Tx) error {
			if _, err := tx.Run("run-1"); err != nil {
				t.Errorf("main snapshot not kept: %v", err)
			}
			return nil
		})
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Error("orphaned temp file should be removed")
		}
	})
}

func TestYAMLStore_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("runs: [unterminated"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := NewYAMLStore(path, logging.NewForTest())
	if !deckerrors.HasCode(err, deckerrors.CodeStoreRead) {
		t.Errorf("err = %v, want store read error", err)
	}
}

func TestYAMLStore_NoWriteWithoutChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	s := openYAML(t, path)

	seed(t, s, func(Tx) error { return nil })
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("empty transaction created the snapshot file (err=%v)", err)
	}
}
