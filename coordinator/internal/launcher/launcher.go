// Package launcher запускает N независимых воркеров и следит за их завершением.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"matdist/common/logger"
)

// Pool: набор запущенных воркеров.
type Pool interface {
	// Alive: число ещё не завершившихся воркеров.
	Alive() int
	// Done закрывается, когда завершились все воркеры.
	Done() <-chan struct{}
	// Exited получает по одному значению на каждый завершившийся воркер:
	// nil при штатном выходе, иначе ошибку выхода.
	Exited() <-chan error
	// Wait ждёт завершения всех воркеров или ctx; возвращает объединённые ошибки выхода.
	Wait(ctx context.Context) error
	// Kill принудительно останавливает оставшихся воркеров.
	Kill()
}

// Launcher: примитив «запустить N независимых воркеров».
type Launcher interface {
	Launch(ctx context.Context, n int) (Pool, error)
}

type pool struct {
	wg    sync.WaitGroup
	alive atomic.Int32
	done  chan struct{}
	exits chan error

	mu    sync.Mutex
	kills []func()
	errs  []error
}

func newPool(n int) *pool {
	return &pool{done: make(chan struct{}), exits: make(chan error, n)}
}

func (p *pool) track(name string, wait func() error, kill func()) {
	p.alive.Add(1)
	p.wg.Add(1)
	p.mu.Lock()
	p.kills = append(p.kills, kill)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		err := wait()
		p.alive.Add(-1)
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
			p.exits <- err
			logger.Log("Launcher", fmt.Sprintf("%s exited: %v", name, err))
			return
		}
		p.exits <- nil
		logger.Log("Launcher", name+" exited")
	}()
}

// seal вызывается после регистрации всех воркеров.
func (p *pool) seal() {
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
}

func (p *pool) Alive() int {
	return int(p.alive.Load())
}

func (p *pool) Done() <-chan struct{} {
	return p.done
}

func (p *pool) Exited() <-chan error {
	return p.exits
}

func (p *pool) Wait(ctx context.Context) error {
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

func (p *pool) Kill() {
	p.mu.Lock()
	kills := append([]func(){}, p.kills...)
	p.mu.Unlock()
	for _, kill := range kills {
		kill()
	}
}

// Process запускает бинарник воркера как отдельный процесс ОС без аргументов;
// точка подключения и секрет передаются через окружение.
type Process struct {
	Binary string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

func (l *Process) Launch(_ context.Context, n int) (Pool, error) {
	p := newPool(n)
	for i := 0; i < n; i++ {
		cmd := exec.Command(l.Binary)
		cmd.Env = append(os.Environ(), l.Env...)
		cmd.Stdout = l.Stdout
		cmd.Stderr = l.Stderr
		if cmd.Stderr == nil {
			cmd.Stderr = os.Stderr
		}
		if err := cmd.Start(); err != nil {
			p.Kill()
			p.seal()
			return nil, fmt.Errorf("start worker %d (%s): %w", i, l.Binary, err)
		}
		name := fmt.Sprintf("worker process %d", cmd.Process.Pid)
		p.track(name, cmd.Wait, func() { _ = cmd.Process.Kill() })
	}
	p.seal()
	logger.Log("Launcher", fmt.Sprintf("started %d worker processes from %s", n, l.Binary))
	return p, nil
}

// Func запускает воркеров как горутины в текущем процессе; Kill отменяет их контекст.
type Func struct {
	Run func(ctx context.Context, index int) error
}

func (l *Func) Launch(ctx context.Context, n int) (Pool, error) {
	if l.Run == nil {
		return nil, errors.New("launcher: Run is nil")
	}
	p := newPool(n)
	for i := 0; i < n; i++ {
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		index := i
		p.track(fmt.Sprintf("worker goroutine %d", index), func() error {
			defer cancel()
			return l.Run(wctx, index)
		}, cancel)
	}
	p.seal()
	return p, nil
}
