package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reconciler 定时兜底刷新。实时通道降级时用短周期，正常时用长周期
type Reconciler struct {
	trigger  func(reason string)
	fallback time.Duration
	safety   time.Duration

	degraded atomic.Bool
	modeCh   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

// NewReconciler 创建定时器，初始为降级模式
func NewReconciler(trigger func(reason string), fallback, safety time.Duration) *Reconciler {
	r := &Reconciler{
		trigger:  trigger,
		fallback: fallback,
		safety:   safety,
		modeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.degraded.Store(true)
	return r
}

// Start 启动定时
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.started.Store(true)
		go r.run()
	})
}

// Stop 停止定时并等待退出
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	if r.started.Load() {
		<-r.done
	}
}

// SetDegraded 切换周期，模式变化时重置定时器
func (r *Reconciler) SetDegraded(degraded bool) {
	if r.degraded.Swap(degraded) == degraded {
		return
	}
	select {
	case r.modeCh <- struct{}{}:
	default:
	}
}

// Degraded 是否降级
func (r *Reconciler) Degraded() bool {
	return r.degraded.Load()
}

// Interval 当前周期
func (r *Reconciler) Interval() time.Duration {
	if r.degraded.Load() {
		return r.fallback
	}
	return r.safety
}

func (r *Reconciler) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.trigger("reconcile")
		case <-r.modeCh:
			ticker.Reset(r.Interval())
		case <-r.stopCh:
			return
		}
	}
}
