package snowflake

import (
	"bytes"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type Snowflake struct {
	Timestamp int64
	WorkerID  int64
	Increment int64
}

const (
	// Epoch is 2024-01-01T00:00:00Z in unix milliseconds. Timestamps
	// inside IDs are relative to it.
	Epoch int64 = 1704067200000

	timestampLength int64 = 42
	timestampPos          = 64 - timestampLength           // 22
	workerLength    int64 = 10
	workerPos             = timestampPos - workerLength    // 12
	incrementLength       = 64 - timestampLength - workerLength

	// Clock regressions under this tolerance are waited out, anything
	// larger means the machine clock is broken and IDs could repeat.
	backwardsTolerance = 5 * time.Second
)

var (
	maxWorkerValue    int64 = (1 << workerLength) - 1
	maxIncrementValue int64 = (1 << incrementLength) - 1

	lastIncrement, lastTimestamp int64
	mutex                        sync.Mutex

	workerID    int64 = 0
	hasWorkerID       = false
)

func Setup(id int64) error {
	if id < 0 || id > maxWorkerValue {
		return fmt.Errorf("worker ID value exceeds maximum value of [%d]", maxWorkerValue)
	}

	if time.Now().UnixMilli() < Epoch {
		return fmt.Errorf("system clock is before the snowflake epoch, refusing to generate IDs")
	}

	if hasWorkerID {
		return fmt.Errorf("worker ID for snowflake generator has been already set")
	}

	workerID = id
	hasWorkerID = true
	return nil
}

// Generate returns the next ID for this worker. IDs are strictly
// increasing; a (millisecond, increment) pair is never reused.
func Generate() (int64, error) {
	mutex.Lock()
	defer mutex.Unlock()

	timestamp := time.Now().UnixMilli()

	if timestamp < lastTimestamp {
		drift := time.Duration(lastTimestamp-timestamp) * time.Millisecond
		if drift > backwardsTolerance {
			return 0, fmt.Errorf("wall clock moved backwards by %s, refusing to generate IDs", drift)
		}
		// small regression, wait for the clock to catch up
		for timestamp < lastTimestamp {
			timestamp = time.Now().UnixMilli()
		}
	}

	if timestamp == lastTimestamp {
		lastIncrement += 1
		if lastIncrement > maxIncrementValue {
			// increment space for this millisecond is exhausted,
			// spin until the next one
			for timestamp <= lastTimestamp {
				timestamp = time.Now().UnixMilli()
			}
			lastIncrement = 0
			lastTimestamp = timestamp
		}
	} else {
		lastIncrement = 0
		lastTimestamp = timestamp
	}

	return (timestamp-Epoch)<<timestampPos | workerID<<workerPos | lastIncrement, nil
}

func Extract(snowflakeId int64) Snowflake {
	return Snowflake{
		Timestamp: (snowflakeId >> timestampPos) + Epoch,
		WorkerID:  (snowflakeId >> workerPos) & ((1 << workerLength) - 1),
		Increment: snowflakeId & ((1 << incrementLength) - 1),
	}
}

func ExtractTimestamp(snowflakeId int64) int64 {
	return (snowflakeId >> timestampPos) + Epoch
}

// Format renders an ID in its wire form, a decimal string. IDs always
// travel as strings so consumers limited to 53-bit numbers survive.
func Format(snowflakeId int64) string {
	return strconv.FormatInt(snowflakeId, 10)
}

// ParseString parses the decimal wire form.
func ParseString(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid snowflake [%s]", s)
	}
	return id, nil
}

// ParseJSON accepts an ID as either a JSON string or a JSON number and
// round-trips through the string form.
func ParseJSON(raw []byte) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		return ParseString(string(raw[1 : len(raw)-1]))
	}
	return ParseString(string(raw))
}

func CreatedAt(snowflakeId int64) time.Time {
	return time.UnixMilli(ExtractTimestamp(snowflakeId))
}
