package main

import (
	"context"
	"fmt"
	"time"

	"github.com/kardianos/service"
)

// program adapts run to the service manager's Start/Stop lifecycle.
type program struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		run(ctx, false)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.cancel()
	select {
	case <-p.done:
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timeout waiting for relay to stop")
	}
}

func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "AnalyzerRelay",
		DisplayName: "Image Analyzer Relay",
		Description: "Local HTTP relay that submits images to the analysis backend and polls for results.",
		Option: service.KeyValue{
			"StartType": "automatic",
		},
	}
}

// runAsService runs under the platform service manager when not started
// from a terminal. It reports whether it did.
func runAsService() (bool, error) {
	if service.Interactive() {
		return false, nil
	}
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		return false, fmt.Errorf("failed to create service: %w", err)
	}
	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run failed: %w", err)
	}
	return true, nil
}

// handleServiceCommand runs install, uninstall, start, stop or restart.
func handleServiceCommand(cmd string) error {
	s, err := service.New(&program{}, serviceConfig())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	if err := service.Control(s, cmd); err != nil {
		return fmt.Errorf("service %s failed: %w (valid: %v)", cmd, err, service.ControlAction)
	}
	fmt.Printf("Service %s succeeded\n", cmd)
	return nil
}
