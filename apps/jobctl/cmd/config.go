package cmd

import (
	"errors"
	"fmt"
	"log"

	"github.com/quatton/jobman/pkg/qsdk"
	"github.com/spf13/cobra"
)

var (
	configGlobal bool
	configLocal  bool
)

var configCmd = &cobra.Command{
	Use:   "config <key> [value]",
	Short: "Read or write a key in ~/.jobmanrc.yaml (--global) or ./.jobmanrc.yaml (--local)",
	Long: `With a value, config writes key=value to the chosen file. Without one it
prints the key's value from that file only. When both files set a key, the
local one wins at run time.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, err := configScope()
		if err != nil {
			return err
		}
		key := args[0]

		if len(args) == 2 {
			path, err := qsdk.SetValue(scope, key, args[1])
			if err != nil {
				log.Fatalf("%v", err)
			}
			fmt.Printf("✓ Set %s in %s configuration (%s)\n", key, scope, path)
			return nil
		}

		value, ok, err := qsdk.GetValue(scope, key)
		if err != nil {
			log.Fatalf("%v", err)
		}
		if !ok {
			return fmt.Errorf("key %s not found in %s configuration", key, scope)
		}
		fmt.Printf("%s: %v\n", key, value)
		return nil
	},
}

func configScope() (qsdk.Scope, error) {
	switch {
	case configGlobal && configLocal:
		return "", errors.New("specify only one of --global or --local")
	case configGlobal:
		return qsdk.ScopeGlobal, nil
	case configLocal:
		return qsdk.ScopeLocal, nil
	default:
		return "", errors.New("specify either --global or --local")
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configGlobal, "global", false, "Use ~/.jobmanrc.yaml")
	configCmd.Flags().BoolVar(&configLocal, "local", false, "Use ./.jobmanrc.yaml")
}
