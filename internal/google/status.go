package google

import (
	"sync"
	"time"
)

// Status records a per-operation success/failure trail for operational
// diagnosis: last success time, last error time and reason, last operation,
// and per-operation counters with cumulative duration.
type Status struct {
	mu              sync.Mutex
	now             func() time.Time
	lastSuccess     time.Time
	lastError       time.Time
	lastErrorReason string
	lastOp          string
	ops             map[string]*opStats
}

type opStats struct {
	success  int64
	errors   int64
	duration time.Duration
}

type OperationStats struct {
	Success       int64         `json:"success"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
}

type StatusSnapshot struct {
	LastSuccess     time.Time                 `json:"last_success"`
	LastError       time.Time                 `json:"last_error"`
	LastErrorReason string                    `json:"last_error_reason"`
	LastOperation   string                    `json:"last_operation"`
	Operations      map[string]OperationStats `json:"operations"`
}

func newStatus(now func() time.Time) *Status {
	if now == nil {
		now = time.Now
	}
	return &Status{now: now, ops: make(map[string]*opStats)}
}

func (s *Status) record(op string, d time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastOp = op
	st, ok := s.ops[op]
	if !ok {
		st = &opStats{}
		s.ops[op] = st
	}
	st.duration += d

	if err != nil {
		st.errors++
		s.lastError = s.now()
		s.lastErrorReason = err.Error()
		return
	}
	st.success++
	s.lastSuccess = s.now()
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make(map[string]OperationStats, len(s.ops))
	for name, st := range s.ops {
		ops[name] = OperationStats{
			Success:       st.success,
			Errors:        st.errors,
			TotalDuration: st.duration,
		}
	}
	return StatusSnapshot{
		LastSuccess:     s.lastSuccess,
		LastError:       s.lastError,
		LastErrorReason: s.lastErrorReason,
		LastOperation:   s.lastOp,
		Operations:      ops,
	}
}
