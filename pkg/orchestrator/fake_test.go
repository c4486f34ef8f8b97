package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/CodeMonkeyCybersecurity/fuzzfleet/pkg/remote"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap/zaptest"
)

// fakeHost scripts the replies of one address.
type fakeHost struct {
	down bool
	// downAfter makes the host refuse dials once this many dials succeeded.
	downAfter int

	listing   string
	pidOutput string
	launchErr error
	uploadErr error
	chmodExit int
	rmExit    int
	killExit  int
	killErr   string
	alive     bool
}

type fakeDialer struct {
	mu       sync.Mutex
	hosts    map[string]*fakeHost
	commands map[string][]string
	uploads  map[string][]string
	dials    map[string]int
	open     int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		hosts:    make(map[string]*fakeHost),
		commands: make(map[string][]string),
		uploads:  make(map[string][]string),
		dials:    make(map[string]int),
	}
}

func (d *fakeDialer) host(addr string) *fakeHost {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.hosts[addr]
	if !ok {
		h = &fakeHost{}
		d.hosts[addr] = h
	}
	return h
}

func (d *fakeDialer) Dial(_ context.Context, creds remote.Credentials) (remote.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	h, ok := d.hosts[creds.Address]
	if !ok {
		h = &fakeHost{}
		d.hosts[creds.Address] = h
	}
	if h.down || (h.downAfter > 0 && d.dials[creds.Address] >= h.downAfter) {
		return nil, fmt.Errorf("%w: %s: dial tcp: connection refused", remote.ErrConnection, creds)
	}
	d.dials[creds.Address]++
	d.open++
	return &fakeSession{d: d, addr: creds.Address, h: h}, nil
}

func (d *fakeDialer) Commands(addr string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands[addr]...)
}

func (d *fakeDialer) OpenSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

func (d *fakeDialer) TotalCommands() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.commands {
		n += len(c)
	}
	return n
}

type fakeSession struct {
	d      *fakeDialer
	addr   string
	h      *fakeHost
	closed bool
}

func (s *fakeSession) Run(_ context.Context, command string) (remote.Result, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	s.d.commands[s.addr] = append(s.d.commands[s.addr], command)

	h := s.h
	switch {
	case strings.HasPrefix(command, "mkdir -p"):
		return remote.Result{}, nil
	case strings.HasPrefix(command, "ls "):
		return remote.Result{Output: h.listing}, nil
	case strings.HasPrefix(command, "chmod +x"):
		if h.chmodExit != 0 {
			return remote.Result{Stderr: "chmod: cannot access: No such file or directory", ExitStatus: h.chmodExit}, nil
		}
		return remote.Result{Output: "-rwxr-xr-x 1 fuzz fuzz 1024 build"}, nil
	case strings.HasPrefix(command, "nohup"):
		if h.launchErr != nil {
			return remote.Result{}, h.launchErr
		}
		return remote.Result{}, nil
	case strings.HasPrefix(command, "cat "):
		return remote.Result{Output: h.pidOutput}, nil
	case strings.HasPrefix(command, "rm -rf"):
		return remote.Result{ExitStatus: h.rmExit}, nil
	case strings.HasPrefix(command, "kill -0"):
		if h.alive {
			return remote.Result{}, nil
		}
		return remote.Result{Stderr: "kill: No such process", ExitStatus: 1}, nil
	case strings.HasPrefix(command, "kill "):
		return remote.Result{Stderr: h.killErr, ExitStatus: h.killExit}, nil
	}
	return remote.Result{Stderr: "sh: command not found", ExitStatus: 127}, nil
}

func (s *fakeSession) Upload(_ context.Context, localPath, remotePath string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.h.uploadErr != nil {
		return s.h.uploadErr
	}
	s.d.uploads[s.addr] = append(s.d.uploads[s.addr], localPath+" -> "+remotePath)
	return nil
}

func (s *fakeSession) Close() error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	if s.closed {
		return errors.New("already closed")
	}
	s.closed = true
	s.d.open--
	return nil
}

func testLogger(t *testing.T) otelzap.LoggerWithCtx {
	return otelzap.New(zaptest.NewLogger(t)).Ctx(context.Background())
}
