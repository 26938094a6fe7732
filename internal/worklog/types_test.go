package worklog

import "testing"

func TestAppendAssignsSequentialSteps(t *testing.T) {
	w := NewWorkLog("wl-1", "room|chan|chat", "what's the weather")
	for i := 0; i < 5; i++ {
		w.Append(Entry{Level: LevelInfo, Message: "step"})
	}
	for i, e := range w.Entries {
		if e.Step != i+1 {
			t.Fatalf("entries[%d].Step = %d, want %d", i, e.Step, i+1)
		}
	}
}

func TestAppendIgnoresCallerSuppliedStep(t *testing.T) {
	w := NewWorkLog("wl-2", "room|chan|chat", "query")
	w.Append(Entry{Step: 99, Level: LevelInfo})
	w.Append(Entry{Step: 1, Level: LevelInfo})
	if w.Entries[0].Step != 1 || w.Entries[1].Step != 2 {
		t.Fatalf("expected sequential steps regardless of input, got %d, %d", w.Entries[0].Step, w.Entries[1].Step)
	}
}
