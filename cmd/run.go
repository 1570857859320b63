package cmd

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openmcp-project/image-promoter/internal/log"
	"github.com/openmcp-project/image-promoter/internal/server"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the scan, resolve and update loops until terminated",
	Long: `Runs one scan loop per image repository and one update loop per image update
automation until SIGINT or SIGTERM is received. SIGHUP reloads the configuration file;
an invalid file keeps the current configuration. Changes to secretStore and server
take effect after a restart.
image-promoter run <configFile>`,
	Args: cobra.ExactArgs(1),
	ArgAliases: []string{
		"configFile",
	},
	Example: `  image-promoter run "./config.yaml"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.GetLogger()

		c, err := newComponents(cmd, args[0])
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		hangup := make(chan os.Signal, 1)
		signal.Notify(hangup, syscall.SIGHUP)
		defer signal.Stop(hangup)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return c.manager.Start(gctx)
		})
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-hangup:
					previous := c.config.Load()
					snap, err := c.config.Reload()
					if err != nil {
						logger.Errorf("Keeping configuration version %d: %v", snap.Version, err)
						continue
					}
					logger.Infof("Reloaded configuration, now at version %d", snap.Version)
					if settings := restartRequired(previous.Config, snap.Config); len(settings) > 0 {
						logger.Warnf("Changes to %s take effect after a restart", strings.Join(settings, ", "))
					}
				}
			}
		})
		if srv := c.config.Load().Config.Server; !srv.Disabled {
			router := server.NewRouter(c.state, c.manager, c.recorder.Handler())
			g.Go(func() error {
				return server.Run(gctx, srv.Address, router)
			})
		}

		err = g.Wait()
		if err != nil && ctx.Err() == nil {
			return err
		}
		logger.Info("Shut down")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(runCmd)
	addCommonFlags(runCmd)
}

