package job

import (
	"time"

	"github.com/a3tai/rat-autofill/internal/form"
)

// Status is the state of one user's result.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Messages shown to operators.
const (
	MessageProcessing = "Sedang memproses..."
	MessageSuccess    = "Berhasil diisi"
	MessageSkipped    = "Sudah pernah diisi sebelumnya"
	MessageFailed     = "Gagal saat proses"
	MessageCancelled  = "Proses dibatalkan oleh pengguna."
	MessageShutdown   = "Proses dihentikan karena server dimatikan."
	MessageNoUsers    = "Tidak ada data user ditemukan dalam PDF!"
)

const clockLayout = "15:04:05"

// UserResult is the outcome of one record. It is appended once and only
// updated by the worker that appended it.
type UserResult struct {
	Index     int       `json:"user_number"`
	Username  string    `json:"username"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Summary counts finished results by status.
type Summary struct {
	Success int `json:"success"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RunStatus is the progress of the current or last run.
type RunStatus struct {
	RunID           string       `json:"run_id,omitempty"`
	Running         bool         `json:"running"`
	Total           int          `json:"total_users"`
	CurrentIndex    int          `json:"current_user"`
	CurrentUsername string       `json:"current_username"`
	Results         []UserResult `json:"results"`
	Completed       bool         `json:"completed"`
	Error           *string      `json:"error"`
	CancelRequested bool         `json:"cancel_requested"`
	Summary         Summary      `json:"summary"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

func (s RunStatus) clone() RunStatus {
	out := s
	out.Results = append(make([]UserResult, 0, len(s.Results)), s.Results...)
	if s.Error != nil {
		msg := *s.Error
		out.Error = &msg
	}
	return out
}

func idleStatus() RunStatus {
	return RunStatus{Results: []UserResult{}}
}

// statusFor maps a form outcome to a result status and message.
func statusFor(res form.Result) (Status, string) {
	switch res.Outcome {
	case form.OutcomeSuccess:
		return StatusSuccess, MessageSuccess
	case form.OutcomeAlreadyFilled:
		return StatusSkipped, MessageSkipped
	default:
		if res.Err != nil {
			return StatusFailed, MessageFailed + ": " + res.Err.Error()
		}
		return StatusFailed, MessageFailed
	}
}
