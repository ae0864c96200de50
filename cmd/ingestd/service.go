package main

import (
	"fmt"
	"path/filepath"

	"github.com/flemzord/ingestd/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts an app.Instance to the service manager: Start must not
// block, Stop must wait for shutdown.
type program struct {
	params app.RunParams
	inst   *app.Instance
}

func (p *program) Start(_ service.Service) error {
	inst, err := app.Build(p.params)
	if err != nil {
		return err
	}
	if err := inst.Start(); err != nil {
		return err
	}
	p.inst = inst
	return nil
}

func (p *program) Stop(_ service.Service) error {
	if p.inst != nil {
		p.inst.Stop()
	}
	return nil
}

// serviceConfig describes the system service. The config path is made
// absolute because service managers start from an arbitrary directory.
func serviceConfig(params app.RunParams) (*service.Config, error) {
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--config", abs)
	}
	if params.DataDir != "" {
		abs, err := filepath.Abs(params.DataDir)
		if err != nil {
			return nil, err
		}
		args = append(args, "--data-dir", abs)
	}
	return &service.Config{
		Name:        "ingestd",
		DisplayName: "ingestd",
		Description: "Episode ingestion pipeline for knowledge graphs.",
		Arguments:   args,
	}, nil
}

func newService(cmd *cobra.Command) (service.Service, error) {
	params, err := runParams(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := serviceConfig(params)
	if err != nil {
		return nil, err
	}
	return service.New(&program{params: params}, cfg)
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage ingestd as a system service",
	}
	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}
	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(cmd)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}
