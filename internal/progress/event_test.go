package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	id := UUIDToBytes(uuid.New())
	now := time.Now()

	cases := []struct {
		name    string
		evt     Event
		wantErr bool
	}{
		{"job start", Event{JobID: id, TS: now, Stage: StageJobStart}, false},
		{"missing job id", Event{TS: now, Stage: StageJobStart}, true},
		{"missing timestamp", Event{JobID: id, Stage: StageJobDone}, true},
		{"form step without site", Event{JobID: id, TS: now, Stage: StageFormStep}, true},
		{"form step", Event{JobID: id, TS: now, Stage: StageFormStep, Site: "deals.example.com"}, false},
		{"doc staged without bytes", Event{JobID: id, TS: now, Stage: StageDocStaged, Site: "deals.example.com"}, true},
		{"doc staged", Event{JobID: id, TS: now, Stage: StageDocStaged, Site: "deals.example.com", Bytes: 10}, false},
		{"doc failed", Event{JobID: id, TS: now, Stage: StageDocFailed, Site: "deals.example.com"}, false},
		{"unknown stage", Event{JobID: id, TS: now, Stage: Stage("FETCH_DONE")}, true},
		{"negative duration", Event{JobID: id, TS: now, Stage: StageJobDone, Dur: -time.Second}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
