package handoff

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
	"github.com/BaSui01/skillmesh/internal/resilience"
	"github.com/BaSui01/skillmesh/types"
)

// Delegate hands a task to a peer and returns a future that settles exactly
// once, with whichever of result, reject, timeout, cancel or disconnect
// comes first. A send failure settles the returned future immediately.
func (p *Protocol) Delegate(ctx context.Context, req DelegateRequest) (*Future, error) {
	if req.SkillID == "" {
		return nil, types.NewError(types.ErrInvalidMessage, "skill id is required")
	}
	if req.PeerID == "" && req.DeviceID != "" && p.registry != nil {
		if d, ok := p.registry.Get(req.DeviceID); ok {
			req.PeerID = d.PeerID
		}
	}
	if req.PeerID == "" {
		return nil, types.NewError(types.ErrNoCandidate, "delegation target has no peer")
	}
	if req.DeviceID == "" && p.registry != nil {
		if d, ok := p.registry.DeviceForPeer(req.PeerID); ok {
			req.DeviceID = d.DeviceID
		}
	}
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}
	if req.Timeout <= 0 {
		req.Timeout = p.config.TaskTimeout
	}
	if req.Priority == 0 {
		req.Priority = mesh.PriorityNormal
	}

	now := p.now()
	d := &delegation{
		Delegation: Delegation{
			TaskID:    req.TaskID,
			PeerID:    req.PeerID,
			DeviceID:  req.DeviceID,
			SkillID:   req.SkillID,
			Input:     req.Input,
			Priority:  req.Priority,
			Timeout:   req.Timeout,
			Status:    StatusPending,
			CreatedAt: now,
		},
		future: newFuture(req.TaskID),
	}

	p.mu.Lock()
	if _, exists := p.delegations[req.TaskID]; exists {
		p.mu.Unlock()
		return nil, types.Errorf(types.ErrInvalidMessage, "task %s already delegated", req.TaskID)
	}
	p.delegations[req.TaskID] = d
	d.timer = resilience.AfterFunc(p.config.DelegateTimeout, func() { p.onAcceptTimeout(req.TaskID) })
	p.mu.Unlock()

	msg := &mesh.Delegate{
		TaskID:      req.TaskID,
		SkillID:     req.SkillID,
		Input:       req.Input,
		Priority:    req.Priority,
		TimeoutMs:   req.Timeout.Milliseconds(),
		DelegatedBy: p.localDeviceID(),
		DelegatedAt: now.UTC(),
	}
	if err := p.send(ctx, req.PeerID, msg); err != nil {
		p.settle(req.TaskID, StatusFailed, nil, err)
		return d.future, nil
	}

	p.logger.Debug("task delegated",
		zap.String("task_id", req.TaskID),
		zap.String("peer_id", req.PeerID),
		zap.String("skill_id", req.SkillID))
	return d.future, nil
}

// DelegateAndWait delegates and waits for the outcome. If ctx ends first the
// delegation is cancelled.
func (p *Protocol) DelegateAndWait(ctx context.Context, req DelegateRequest) (*Outcome, error) {
	f, err := p.Delegate(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := f.Wait(ctx); err != nil && ctx.Err() != nil && f.Outcome() == nil {
		p.Cancel(f.TaskID(), "caller gave up")
		<-f.Done()
	}
	o := f.Outcome()
	return o, o.Err
}

// Cancel asks the executor to stop a delegated task and settles it locally
// as cancelled. The remote side is only asked, not forced.
func (p *Protocol) Cancel(taskID, reason string) bool {
	p.mu.Lock()
	d, ok := p.delegations[taskID]
	var peerID string
	if ok {
		peerID = d.PeerID
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	if reason == "" {
		reason = "cancelled by delegator"
	}
	settled := p.settle(taskID, StatusCancelled, nil, types.NewError(types.ErrDelegationCancelled, reason).WithPeer(peerID))

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DelegateTimeout)
	defer cancel()
	if err := p.send(ctx, peerID, &mesh.Cancel{TaskID: taskID}); err != nil {
		p.logger.Debug("cancel not delivered", zap.String("task_id", taskID), zap.Error(err))
	}
	return settled
}

// Get returns a snapshot of an outstanding delegation.
func (p *Protocol) Get(taskID string) (Delegation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.delegations[taskID]
	if !ok {
		return Delegation{}, false
	}
	return d.Delegation, true
}

// advanceLocked moves a live delegation forward. It returns nil when the task is
// unknown, owned by another peer, or the move would go backwards.
func (p *Protocol) advanceLocked(taskID, peerID string, to DelegationStatus) *delegation {
	d, ok := p.delegations[taskID]
	if !ok || d.PeerID != peerID {
		return nil
	}
	if to.rank() <= d.Status.rank() {
		return nil
	}
	d.Status = to
	return d
}

func (p *Protocol) handleAccept(peerID string, m *mesh.Accept) {
	p.mu.Lock()
	d := p.advanceLocked(m.TaskID, peerID, StatusAccepted)
	if d != nil {
		d.timer.Stop()
		now := p.now()
		d.AcceptedAt = &now
		taskID := d.TaskID
		d.timer = resilience.AfterFunc(d.Timeout, func() { p.onResultTimeout(taskID) })
	}
	p.mu.Unlock()

	if d == nil {
		p.logger.Debug("late or unknown accept dropped", zap.String("task_id", m.TaskID), zap.String("peer_id", peerID))
	}
}

func (p *Protocol) handleProgress(peerID string, m *mesh.Progress) {
	p.mu.Lock()
	d, ok := p.delegations[m.TaskID]
	live := ok && d.PeerID == peerID
	if live {
		if d.Status == StatusPending {
			// a progress report implies acceptance
			d.timer.Stop()
			now := p.now()
			d.AcceptedAt = &now
			taskID := d.TaskID
			d.timer = resilience.AfterFunc(d.Timeout, func() { p.onResultTimeout(taskID) })
		}
		if d.Status.rank() < StatusRunning.rank() {
			d.Status = StatusRunning
		}
		d.Progress = m.Progress
	}
	p.mu.Unlock()

	if !live {
		p.logger.Debug("late or unknown progress dropped", zap.String("task_id", m.TaskID))
		return
	}
	p.emitEvent(&Event{
		Type:      EventTaskProgress,
		TaskID:    m.TaskID,
		PeerID:    peerID,
		Status:    StatusRunning,
		Progress:  m.Progress,
		Message:   m.Message,
		Timestamp: p.now(),
	})
}

func (p *Protocol) handleReject(peerID string, m *mesh.Reject) {
	reason := m.Reason
	if reason == "" {
		reason = "rejected by peer"
	}
	if !p.settleWhen(m.TaskID, fromPeer(peerID), StatusRejected, nil,
		types.NewError(types.ErrDelegationRejected, reason).WithPeer(peerID)) {
		p.logger.Debug("late or unknown reject dropped", zap.String("task_id", m.TaskID))
	}
}

func (p *Protocol) handleResult(peerID string, m *mesh.Result) {
	var settled bool
	if m.Success {
		settled = p.settleWhen(m.TaskID, fromPeer(peerID), StatusCompleted, m.Result, nil)
	} else {
		settled = p.settleWhen(m.TaskID, fromPeer(peerID), StatusFailed, nil, remoteFailure(peerID, m))
	}
	if !settled {
		p.logger.Debug("late or unknown result dropped", zap.String("task_id", m.TaskID))
	}
}

// remoteFailure turns a failed task-result into an execution error. Whatever
// code the remote skill reported is kept only as the cause, so a skill that
// itself timed out never reads as a protocol failure here.
func remoteFailure(peerID string, m *mesh.Result) error {
	msg := m.Error
	if msg == "" {
		msg = "remote execution failed"
	}
	err := types.NewError(types.ErrExecutionFailed, msg).WithPeer(peerID)
	if code := types.ErrorCode(m.ErrorCode); code != "" && code != types.ErrExecutionFailed {
		err = err.WithCause(types.NewError(code, msg))
	}
	return err
}

func fromPeer(peerID string) func(*delegation) bool {
	return func(d *delegation) bool { return d.PeerID == peerID }
}

func (p *Protocol) onAcceptTimeout(taskID string) {
	p.settleWhen(taskID, func(d *delegation) bool { return d.Status == StatusPending }, StatusTimedOut, nil,
		types.Errorf(types.ErrDelegationTimeout, "no accept within %s", p.config.DelegateTimeout).WithRetryable(true))
}

func (p *Protocol) onResultTimeout(taskID string) {
	p.settleWhen(taskID, func(d *delegation) bool {
		return d.Status == StatusAccepted || d.Status == StatusRunning
	}, StatusTimedOut, nil,
		types.NewError(types.ErrDelegationTimeout, "no result within the task timeout").WithRetryable(true))
}

// settle moves a delegation to a terminal status, removes it and resolves
// its future. Status change and removal happen in one critical section, so
// exactly one caller wins.
func (p *Protocol) settle(taskID string, status DelegationStatus, output []byte, err error) bool {
	return p.settleWhen(taskID, nil, status, output, err)
}

// settleWhen settles only if cond holds for the live delegation.
func (p *Protocol) settleWhen(taskID string, cond func(*delegation) bool, status DelegationStatus, output []byte, err error) bool {
	p.mu.Lock()
	d, ok := p.delegations[taskID]
	if !ok || (cond != nil && !cond(d)) {
		p.mu.Unlock()
		return false
	}
	delete(p.delegations, taskID)
	d.Status = status
	d.timer.Stop()
	p.settled[string(status)]++
	p.mu.Unlock()

	duration := p.now().Sub(d.CreatedAt)
	d.future.resolve(&Outcome{
		TaskID:   taskID,
		PeerID:   d.PeerID,
		DeviceID: d.DeviceID,
		Status:   status,
		Output:   output,
		Err:      err,
		Duration: duration,
	})
	p.metrics.RecordDelegation(string(status), duration)

	fields := []zap.Field{
		zap.String("task_id", taskID),
		zap.String("peer_id", d.PeerID),
		zap.String("status", string(status)),
		zap.Duration("duration", duration),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	p.logger.Debug("delegation settled", fields...)

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.emitEvent(&Event{
		Type:      EventDelegationSettled,
		TaskID:    taskID,
		PeerID:    d.PeerID,
		DeviceID:  d.DeviceID,
		Status:    status,
		Message:   msg,
		Timestamp: p.now(),
	})
	return true
}

// IsDisconnect reports whether err is a peer-disconnect failure.
func IsDisconnect(err error) bool {
	return types.IsErrorCode(err, types.ErrPeerDisconnected)
}

// IsProtocolError reports whether err was produced by the protocol rather
// than by the remote skill.
func IsProtocolError(err error) bool {
	e, ok := types.AsError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	}
	return e.Category() == types.CategoryProtocol
}
