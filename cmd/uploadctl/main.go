// Command uploadctl is the operator CLI for the upload engine: it
// admits files for upload, inspects the queue snapshot, runs block
// store maintenance, and offers a local chunk-checksum debug tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voltrail/upload-engine/internal/config"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "uploadctl",
		Short: "Operator CLI for the upload engine",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a .env config file (default: ./.env)")

	root.AddCommand(newAddCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newCleanupCommand())
	root.AddCommand(newChecksumCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers viper over internal/config.Load so uploadctl can
// point at an arbitrary .env file via --config without disturbing the
// library's own env-first Config.Load contract.
func loadConfig() *config.Config {
	if cfgFile != "" {
		v := viper.New()
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err == nil {
			for _, key := range v.AllKeys() {
				os.Setenv(envKey(key), fmt.Sprintf("%v", v.Get(key)))
			}
		}
	}
	return config.Load()
}

func envKey(viperKey string) string {
	out := make([]byte, 0, len(viperKey))
	for _, r := range viperKey {
		if r == '.' || r == '-' {
			out = append(out, '_')
			continue
		}
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, byte(r))
	}
	return string(out)
}
