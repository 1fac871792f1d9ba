// Package protocol implements the Gearman wire protocol: the binary
// request/response framing and the line-oriented admin text protocol.
//
// Command type codes are replicated verbatim from the Gearman protocol so
// this package interoperates with any real gearmand. The numbering below
// is carried over from the teacher's server.go; the REQ/RES magic values
// are the real "\0REQ"/"\0RES" wire bytes rather than the teacher's own
// framing. This file also adds the
// commands spec.md names that the teacher left out (WORK_STATUS naming fix,
// GET_STATUS reply, etc.) and the ordered argument schema the teacher never
// needed because it parsed replies ad hoc.
package protocol

// Type is the 32-bit Gearman command type code.
type Type uint32

// Magic identifies which half of the REQ/RES pair a frame belongs to.
type Magic uint32

const (
	MagicReq Magic = 'R'<<16 | 'E'<<8 | 'Q'
	MagicRes Magic = 'R'<<16 | 'E'<<8 | 'S'
)

// Command type codes, verbatim from the Gearman protocol.
const (
	TypeCanDo            Type = 1
	TypeCantDo           Type = 2
	TypeResetAbilities   Type = 3
	TypePreSleep         Type = 4
	TypeNoop             Type = 6
	TypeSubmitJob        Type = 7
	TypeJobCreated       Type = 8
	TypeGrabJob          Type = 9
	TypeNoJob            Type = 10
	TypeJobAssign        Type = 11
	TypeWorkStatus       Type = 12
	TypeWorkComplete     Type = 13
	TypeWorkFail         Type = 14
	TypeGetStatus        Type = 15
	TypeEchoReq          Type = 16
	TypeEchoRes          Type = 17
	TypeSubmitJobBG      Type = 18
	TypeError            Type = 19
	TypeStatusRes        Type = 20
	TypeSubmitJobHigh    Type = 21
	TypeSetClientID      Type = 22
	TypeCanDoTimeout     Type = 23
	TypeAllYours         Type = 24
	TypeWorkException    Type = 25
	TypeOptionReq        Type = 26
	TypeOptionRes        Type = 27
	TypeWorkData         Type = 28
	TypeWorkWarning      Type = 29
	TypeGrabJobUniq      Type = 30
	TypeJobAssignUniq    Type = 31
	TypeSubmitJobHighBG  Type = 32
	TypeSubmitJobLow     Type = 33
	TypeSubmitJobLowBG   Type = 34
	TypeSubmitJobSched   Type = 35
	TypeSubmitJobEpoch   Type = 36
	TypeTextCommand      Type = 9999 // in-band sentinel, never sent on the wire
)

// schema maps each command type to its ordered, NUL-joined argument fields.
// The final field in every schema may itself contain embedded NULs (it
// carries the opaque job payload) and is never split further.
var schema = map[Type][]string{
	TypeCanDo:           {"task"},
	TypeCanDoTimeout:    {"task", "timeout"},
	TypeCantDo:          {"task"},
	TypeResetAbilities:  {},
	TypePreSleep:        {},
	TypeNoop:            {},
	TypeSubmitJob:       {"task", "unique", "data"},
	TypeSubmitJobBG:     {"task", "unique", "data"},
	TypeSubmitJobHigh:   {"task", "unique", "data"},
	TypeSubmitJobHighBG: {"task", "unique", "data"},
	TypeSubmitJobLow:    {"task", "unique", "data"},
	TypeSubmitJobLowBG:  {"task", "unique", "data"},
	TypeSubmitJobSched:  {"task", "unique", "minute", "hour", "day", "month", "dow", "data"},
	TypeSubmitJobEpoch:  {"task", "unique", "epoch", "data"},
	TypeJobCreated:      {"job_handle"},
	TypeGrabJob:         {},
	TypeGrabJobUniq:     {},
	TypeNoJob:           {},
	TypeJobAssign:       {"job_handle", "task", "data"},
	TypeJobAssignUniq:   {"job_handle", "task", "unique", "data"},
	TypeWorkStatus:      {"job_handle", "numerator", "denominator"},
	TypeWorkComplete:    {"job_handle", "data"},
	TypeWorkFail:        {"job_handle"},
	TypeWorkException:   {"job_handle", "data"},
	TypeWorkData:        {"job_handle", "data"},
	TypeWorkWarning:     {"job_handle", "data"},
	TypeGetStatus:       {"job_handle"},
	TypeStatusRes:       {"job_handle", "known", "running", "numerator", "denominator"},
	TypeEchoReq:         {"data"},
	TypeEchoRes:         {"data"},
	TypeError:           {"error_code", "error_text"},
	TypeSetClientID:     {"client_id"},
	TypeAllYours:        {},
	TypeOptionReq:       {"option_name"},
	TypeOptionRes:       {"option_name"},
}

// Name returns the human-readable command name, used in log messages and
// in ProtocolError text. Returns "" for an unknown type.
func Name(t Type) string {
	return names[t]
}

var names = map[Type]string{
	TypeCanDo:           "CAN_DO",
	TypeCanDoTimeout:    "CAN_DO_TIMEOUT",
	TypeCantDo:          "CANT_DO",
	TypeResetAbilities:  "RESET_ABILITIES",
	TypePreSleep:        "PRE_SLEEP",
	TypeNoop:            "NOOP",
	TypeSubmitJob:       "SUBMIT_JOB",
	TypeSubmitJobBG:     "SUBMIT_JOB_BG",
	TypeSubmitJobHigh:   "SUBMIT_JOB_HIGH",
	TypeSubmitJobHighBG: "SUBMIT_JOB_HIGH_BG",
	TypeSubmitJobLow:    "SUBMIT_JOB_LOW",
	TypeSubmitJobLowBG:  "SUBMIT_JOB_LOW_BG",
	TypeSubmitJobSched:  "SUBMIT_JOB_SCHED",
	TypeSubmitJobEpoch:  "SUBMIT_JOB_EPOCH",
	TypeJobCreated:      "JOB_CREATED",
	TypeGrabJob:         "GRAB_JOB",
	TypeGrabJobUniq:     "GRAB_JOB_UNIQ",
	TypeNoJob:           "NO_JOB",
	TypeJobAssign:       "JOB_ASSIGN",
	TypeJobAssignUniq:   "JOB_ASSIGN_UNIQ",
	TypeWorkStatus:      "WORK_STATUS",
	TypeWorkComplete:    "WORK_COMPLETE",
	TypeWorkFail:        "WORK_FAIL",
	TypeWorkException:   "WORK_EXCEPTION",
	TypeWorkData:        "WORK_DATA",
	TypeWorkWarning:     "WORK_WARNING",
	TypeGetStatus:       "GET_STATUS",
	TypeStatusRes:       "STATUS_RES",
	TypeEchoReq:         "ECHO_REQ",
	TypeEchoRes:         "ECHO_RES",
	TypeError:           "ERROR",
	TypeSetClientID:     "SET_CLIENT_ID",
	TypeAllYours:        "ALL_YOURS",
	TypeOptionReq:       "OPTION_REQ",
	TypeOptionRes:       "OPTION_RES",
	TypeTextCommand:     "TEXT_COMMAND",
}

// Priority selects one of the three submit-job queues.
type Priority int

const (
	PriorityLow Priority = iota - 1
	PriorityNormal
	PriorityHigh
)

// SubmitType returns the binary command type for the given background/priority
// combination -- the six-way choice spec.md §4.6 describes.
func SubmitType(background bool, p Priority) Type {
	switch {
	case !background && p == PriorityNormal:
		return TypeSubmitJob
	case !background && p == PriorityHigh:
		return TypeSubmitJobHigh
	case !background && p == PriorityLow:
		return TypeSubmitJobLow
	case background && p == PriorityNormal:
		return TypeSubmitJobBG
	case background && p == PriorityHigh:
		return TypeSubmitJobHighBG
	default:
		return TypeSubmitJobLowBG
	}
}

// Option names accepted by OPTION_REQ.
type Option string

const (
	OptionExceptions Option = "exceptions"
)
