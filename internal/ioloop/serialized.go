package ioloop

import (
	"strconv"
	"sync"

	"github.com/jasonmoo/cog/internal/protocol"
)

// ResultSender is the serialized write path of spec.md §5.C: job execution
// runs on a bounded worker pool, but only one goroutine at a time may
// enqueue onto a Conn's outbound buffer, since Conn itself assumes a single
// poll-loop writer. Every WORK_* send goes through here instead of
// touching the Conn directly.
type ResultSender struct {
	mu   sync.Mutex
	conn *Conn
	wake func() error
}

func NewResultSender(conn *Conn, wake func() error) *ResultSender {
	return &ResultSender{conn: conn, wake: wake}
}

func (r *ResultSender) send(typ protocol.Type, args protocol.Args) error {
	r.mu.Lock()
	r.conn.SendCommand(typ, args)
	r.mu.Unlock()
	if r.wake != nil {
		return r.wake()
	}
	return nil
}

// WorkComplete reports a successful, non-background job result.
func (r *ResultSender) WorkComplete(jobHandle string, data []byte) error {
	return r.send(protocol.TypeWorkComplete, protocol.Args{"job_handle": []byte(jobHandle), "data": data})
}

// WorkFail reports a job failure with no payload.
func (r *ResultSender) WorkFail(jobHandle string) error {
	return r.send(protocol.TypeWorkFail, protocol.Args{"job_handle": []byte(jobHandle)})
}

// WorkException reports a job failure with an exception payload (requires
// the server connection to have sent OPTION_REQ exceptions first, or the
// server silently discards it).
func (r *ResultSender) WorkException(jobHandle string, data []byte) error {
	return r.send(protocol.TypeWorkException, protocol.Args{"job_handle": []byte(jobHandle), "data": data})
}

// WorkData streams partial data for a still-running job.
func (r *ResultSender) WorkData(jobHandle string, data []byte) error {
	return r.send(protocol.TypeWorkData, protocol.Args{"job_handle": []byte(jobHandle), "data": data})
}

// WorkWarning streams a warning payload for a still-running job.
func (r *ResultSender) WorkWarning(jobHandle string, data []byte) error {
	return r.send(protocol.TypeWorkWarning, protocol.Args{"job_handle": []byte(jobHandle), "data": data})
}

// WorkStatus reports numerator/denominator progress for a still-running job.
func (r *ResultSender) WorkStatus(jobHandle string, numerator, denominator int) error {
	return r.send(protocol.TypeWorkStatus, protocol.Args{
		"job_handle":  []byte(jobHandle),
		"numerator":   []byte(strconv.Itoa(numerator)),
		"denominator": []byte(strconv.Itoa(denominator)),
	})
}
