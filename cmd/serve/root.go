package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dGrid/cmd/util"
	"github.com/ValentinKolb/dGrid/lib/common"
	"github.com/ValentinKolb/dGrid/lib/node"
	"github.com/spf13/cobra"
)

var (
	serveCmdConfig common.GridConfig
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dGrid node",
		Long:    `Start a dGrid node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DGRID_<flag> (e.g. DGRID_TIERS=l1=memory,db=redis)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cmdUtil.SetupGridFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	conf, err := cmdUtil.GetGridConfig()
	if err != nil {
		return err
	}
	serveCmdConfig = conf
	return common.InitLoggers(serveCmdConfig)
}

// run starts the node and serves until the process is interrupted
func run(_ *cobra.Command, _ []string) error {
	n, err := node.New(serveCmdConfig)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return n.Serve(ctx)
}
