package app

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/kardianos/service"
)

// ServiceActions are the control verbs accepted by ControlService.
var ServiceActions = service.ControlAction[:]

// program adapts the app lifecycle to the host service manager.
type program struct {
	params RunParams
	rt     *Runtime
}

var _ service.Interface = (*program)(nil)

// Start must not block; the service manager waits on it.
func (p *program) Start(_ service.Service) error {
	rt, err := start(context.Background(), p.params)
	if err != nil {
		return err
	}
	p.rt = rt
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.rt == nil {
		return nil
	}
	p.rt.App.Stop()
	p.rt.Close(context.Background())
	p.rt = nil
	return nil
}

// NewService describes toolgate to the host service manager. The installed
// unit runs "toolgate serve" with an absolute config path.
func NewService(params RunParams) (service.Service, error) {
	args := []string{"serve"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		params.ConfigPath = abs
		args = append(args, "--config", abs)
	}
	cfg := &service.Config{
		Name:        "toolgate",
		DisplayName: "toolgate",
		Description: "Sandboxed file tool gateway with human approval.",
		Arguments:   args,
	}
	return service.New(&program{params: params}, cfg)
}

// ControlService sends action (install, uninstall, start, stop, restart)
// to the host service manager.
func ControlService(params RunParams, action string) error {
	if !slices.Contains(ServiceActions, action) {
		return fmt.Errorf("unknown service action %q (want one of %v)", action, ServiceActions)
	}
	svc, err := NewService(params)
	if err != nil {
		return err
	}
	return service.Control(svc, action)
}

// RunService runs toolgate under the service manager when it is not
// attached to a terminal, and falls back to Run otherwise.
func RunService(params RunParams) error {
	if service.Interactive() {
		return Run(params)
	}
	svc, err := NewService(params)
	if err != nil {
		return err
	}
	return svc.Run()
}
