package handoff

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/skillmesh/agent/protocol/mesh"
	"github.com/BaSui01/skillmesh/internal/ctxkeys"
	"github.com/BaSui01/skillmesh/internal/pool"
	"github.com/BaSui01/skillmesh/types"
)

// handleDelegate is the executor side of a delegation: reject at once when
// the skill is missing or the executor is saturated, otherwise accept, run
// the skill asynchronously and send exactly one result.
func (p *Protocol) handleDelegate(peerID string, m *mesh.Delegate) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.DelegateTimeout)
	defer cancel()

	if p.runtime == nil || !p.runtime.Has(m.SkillID) {
		p.reject(ctx, peerID, m.TaskID, "skill not available: "+m.SkillID)
		return
	}

	p.mu.Lock()
	if _, dup := p.tasks[m.TaskID]; dup {
		p.mu.Unlock()
		p.logger.Debug("duplicate delegation ignored", zap.String("task_id", m.TaskID))
		return
	}
	timeout := m.Timeout()
	if timeout <= 0 {
		timeout = p.config.TaskTimeout
	}
	taskCtx, taskCancel := context.WithCancelCause(context.Background())
	p.tasks[m.TaskID] = &remoteTask{peerID: peerID, cancel: taskCancel}
	p.mu.Unlock()

	ready := make(chan struct{})
	err := p.executor.TrySubmit(taskCtx, func(ctx context.Context) error {
		select {
		case <-ready:
		case <-ctx.Done():
		}
		return p.runTask(ctx, peerID, m, timeout)
	})
	if err != nil {
		p.dropTask(m.TaskID)
		taskCancel(err)
		reason := "executor unavailable"
		if errors.Is(err, pool.ErrPoolFull) {
			reason = "executor saturated"
		}
		p.reject(ctx, peerID, m.TaskID, reason)
		return
	}

	if err := p.send(ctx, peerID, &mesh.Accept{TaskID: m.TaskID}); err != nil {
		p.logger.Warn("accept not delivered", zap.String("task_id", m.TaskID), zap.Error(err))
		taskCancel(err)
	} else if err := p.send(ctx, peerID, &mesh.Progress{TaskID: m.TaskID, Progress: 0, Message: "started"}); err != nil {
		p.logger.Debug("progress not delivered", zap.String("task_id", m.TaskID), zap.Error(err))
	}
	close(ready)
}

func (p *Protocol) runTask(ctx context.Context, peerID string, m *mesh.Delegate, timeout time.Duration) error {
	defer p.dropTask(m.TaskID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx = ctxkeys.WithOrigin(ctxkeys.WithTaskID(ctx, m.TaskID), peerID)

	var (
		output []byte
		err    error
	)
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	} else {
		output, err = p.runtime.Execute(ctx, m.SkillID, m.Input)
	}

	result := &mesh.Result{TaskID: m.TaskID, Success: err == nil, CompletedAt: p.now().UTC()}
	if err == nil {
		result.Result = output
	} else {
		result.Error = err.Error()
		result.ErrorCode = string(types.ErrExecutionFailed)
		if code := types.GetErrorCode(err); code != "" {
			result.ErrorCode = string(code)
		}
	}

	sendCtx, sendCancel := context.WithTimeout(context.Background(), p.config.DelegateTimeout)
	defer sendCancel()
	if sendErr := p.send(sendCtx, peerID, result); sendErr != nil {
		p.logger.Warn("result not delivered",
			zap.String("task_id", m.TaskID),
			zap.String("peer_id", peerID),
			zap.Error(sendErr))
	}
	return err
}

func (p *Protocol) dropTask(taskID string) {
	p.mu.Lock()
	delete(p.tasks, taskID)
	p.mu.Unlock()
}

func (p *Protocol) reject(ctx context.Context, peerID, taskID, reason string) {
	p.logger.Debug("delegation rejected",
		zap.String("task_id", taskID),
		zap.String("peer_id", peerID),
		zap.String("reason", reason))
	if err := p.send(ctx, peerID, &mesh.Reject{TaskID: taskID, Reason: reason}); err != nil {
		p.logger.Warn("reject not delivered", zap.String("task_id", taskID), zap.Error(err))
	}
}

// handleCancel stops a running task on request of the peer that delegated it.
func (p *Protocol) handleCancel(peerID string, m *mesh.Cancel) {
	p.mu.Lock()
	t, ok := p.tasks[m.TaskID]
	if ok && t.peerID == peerID {
		t.cancel(types.NewError(types.ErrDelegationCancelled, "cancelled by delegator").WithPeer(peerID))
	}
	p.mu.Unlock()

	if ok {
		p.logger.Debug("task cancelled by delegator", zap.String("task_id", m.TaskID))
	}
}
