// Command shmsync inspects and exercises named shared memory segments and
// the mutexes guarding them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srediag/shmsync/api"
	"github.com/srediag/shmsync/pkg/shm"
)

var (
	configPath string
	logLevel   int
	mutexFlag  string

	factory *shm.Factory

	rootCmd = &cobra.Command{
		Use:   "shmsync",
		Short: "Inspect and exercise named shared memory segments",
		Long: `shmsync opens the same named mutexes and shared memory segments as the
processes it sits next to, so their state can be read, modified and stressed
from a shell.

The mutex guarding segment NAME is NAME_mutex unless --mutex is given.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().IntVar(&logLevel, "log-level", -1, "log level: 0 trace ... 4 error, 5 silent")
	rootCmd.PersistentFlags().StringVar(&mutexFlag, "mutex", "", "mutex name (default NAME_mutex)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	if logLevel >= 0 {
		shm.SetLogLevel(logLevel)
	}
	config, err := shm.LoadConfig(configPath)
	if err != nil {
		return err
	}
	f, err := shm.NewFactory(config)
	if err != nil {
		return err
	}
	factory = f
	shm.SetDefault(f)
	return nil
}

func mutexName(segment string) string {
	if mutexFlag != "" {
		return mutexFlag
	}
	return segment + "_mutex"
}

// attach opens segment name and its mutex. The returned release detaches
// both: the CLI never removes names it did not get asked to remove.
func attach(cmd *cobra.Command, name string) (api.NamedMutex, api.SharedMemorySegment, func(), error) {
	mu, err := factory.OpenMutex(mutexName(name))
	if err != nil {
		return nil, nil, nil, err
	}
	seg, err := factory.OpenSegment(name)
	if err != nil {
		_ = mu.Close()
		return nil, nil, nil, err
	}
	release := func() {
		if err := seg.Detach(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
		if err := mu.Close(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	}
	return mu, seg, release, nil
}
