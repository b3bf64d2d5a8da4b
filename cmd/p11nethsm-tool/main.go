// Command p11nethsm-tool inspects and uses the NetHSM instances configured
// for the PKCS#11 module, through the same code the module runs.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/niclabs/p11nethsm/config"
	"github.com/niclabs/p11nethsm/logging"
	"github.com/niclabs/p11nethsm/module"
)

// opener builds the application the commands run against.
type opener func() (*module.Application, error)

type tool struct {
	open   opener
	app    *module.Application
	slot   uint
	output string
}

func main() {
	if err := newRootCmd(openConfigured).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openConfigured() (*module.Application, error) {
	conf, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(conf.Log)
	if err != nil {
		return nil, err
	}
	return module.NewApplication(conf, logger)
}

func newRootCmd(open opener) *cobra.Command {
	t := &tool{open: open}
	var configFile string
	cmd := &cobra.Command{
		Use:           "p11nethsm-tool",
		Short:         "Inspect the NetHSM instances behind the PKCS#11 module",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				if err := os.Setenv(config.EnvConfigFile, configFile); err != nil {
					return err
				}
			}
			app, err := t.open()
			if err != nil {
				return errors.Wrap(err, "cannot start module")
			}
			t.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if t.app == nil {
				return nil
			}
			return t.app.Close()
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "configuration file (default: p11nethsm.yaml search path)")
	cmd.PersistentFlags().UintVarP(&t.slot, "slot", "s", 0, "slot to use")

	cmd.AddCommand(t.healthCmd(), t.keysCmd(), t.signCmd())
	return cmd
}

// session runs body on a fresh serial session of the selected slot.
func (t *tool) session(body func(*module.Session) error) error {
	handle, err := t.app.OpenSession(t.slot, serialSession)
	if err != nil {
		return err
	}
	defer t.app.Sessions.Close(handle)
	return t.app.WithSession(handle, body)
}
