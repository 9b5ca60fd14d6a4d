package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported run stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunProgress Stage = "RUN_PROGRESS"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
)

// lifecycle reports whether the stage opens or closes a run.
func (s Stage) lifecycle() bool {
	return s == StageRunStart || s.terminal()
}

func (s Stage) terminal() bool {
	return s == StageRunDone || s == StageRunError
}

// Event captures one milestone of a crawl run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Source is the news source being crawled.
	Source string
	// Days and Trigger describe the run and are set on RUN_START.
	Days    int
	Trigger string
	// Percent and Message mirror the pipeline's progress report.
	Percent int
	Message string
	// Results is the number of ranked results on RUN_DONE.
	Results int
	// Dur is the wall time of a finished run.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
		if e.Source == "" {
			return errors.New("run start requires source")
		}
	case StageRunProgress:
		if e.Percent < 0 || e.Percent > 100 {
			return fmt.Errorf("percent %d out of range", e.Percent)
		}
	case StageRunDone, StageRunError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
