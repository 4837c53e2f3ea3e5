package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/couchbase/crushmap/common/crushrule"
	"github.com/couchbase/crushmap/pkg/webapi"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func printJson(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

var resolveAll bool

func init() {
	resolveCmd.Flags().BoolVar(&resolveAll, "all", false, "resolve every rule of the map")
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [rule...]",
	Short: "Prints the storage groups selected by crush rules",

	RunE: func(cmd *cobra.Command, args []string) error {
		if !resolveAll && len(args) == 0 {
			return fmt.Errorf("specify at least one rule name or --all")
		}

		_, logger, config, err := setup()
		if err != nil {
			return err
		}

		sys, closeProvider, err := loadSystem(cmd.Context(), logger, config)
		if err != nil {
			return err
		}
		defer closeProvider()

		var out []webapi.ResolutionJson
		if resolveAll {
			all, err := sys.ResolveAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, res := range all {
				out = append(out, webapi.ResolutionToJson(res))
			}
		} else {
			for _, ruleName := range args {
				res, err := sys.Resolve(cmd.Context(), ruleName)
				if err != nil {
					return err
				}
				out = append(out, webapi.ResolutionToJson(res))
			}
		}

		return printJson(cmd.OutOrStdout(), out)
	},
}

var expandCmd = &cobra.Command{
	Use:   "expand [--] <bucket>",
	Short: "Prints every device below a bucket, given by name or id",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, config, err := setup()
		if err != nil {
			return err
		}

		sys, closeProvider, err := loadSystem(cmd.Context(), logger, config)
		if err != nil {
			return err
		}
		defer closeProvider()

		devices, err := sys.ExpandBucket(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		return printJson(cmd.OutOrStdout(), webapi.DevicesToJson(devices))
	},
}

var showKinds = []string{"tunables", "types", "buckets", "rules", "devices"}

var showCmd = &cobra.Command{
	Use:       "show <" + strings.Join(showKinds, "|") + ">",
	Short:     "Prints part of the loaded crush map",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: showKinds,

	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, config, err := setup()
		if err != nil {
			return err
		}

		sys, closeProvider, err := loadSystem(cmd.Context(), logger, config)
		if err != nil {
			return err
		}
		defer closeProvider()

		m, err := sys.Map()
		if err != nil {
			return err
		}

		var out any
		switch args[0] {
		case "tunables":
			out = m.Tunables()
		case "types":
			out = webapi.TypesToJson(m.Types())
		case "buckets":
			out = webapi.BucketsToJson(m.Buckets())
		case "rules":
			out = webapi.RulesToJson(m.Rules())
		case "devices":
			out = webapi.DevicesToJson(m.Devices())
		}

		return printJson(cmd.OutOrStdout(), out)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks the crush map for dangling references, cycles and broken rules",
	Args:  cobra.NoArgs,

	RunE: func(cmd *cobra.Command, args []string) error {
		_, logger, config, err := setup()
		if err != nil {
			return err
		}

		provider, closeProvider, err := config.NewProvider(logger)
		if err != nil {
			return err
		}
		defer closeProvider()

		snap, err := provider.Get(cmd.Context())
		if err != nil {
			return err
		}

		return validateMap(cmd.OutOrStdout(), logger, snap.Map)
	},
}

// validateMap checks the references of the map and then dry runs every
// rule, since a structurally sound map can still carry unbalanced rules.
func validateMap(out io.Writer, logger *zap.Logger, m *crushmap.CrushMap) error {
	err := m.Validate()
	if err != nil {
		return err
	}

	for _, rule := range m.Rules() {
		_, err := crushrule.Resolve(m, rule)
		if err != nil {
			return err
		}
	}

	logger.Debug("crush map validated",
		zap.Int("devices", len(m.Devices())),
		zap.Int("buckets", len(m.Buckets())),
		zap.Int("rules", len(m.Rules())))

	_, err = fmt.Fprintf(out, "crush map is valid: %d devices, %d buckets, %d rules\n",
		len(m.Devices()), len(m.Buckets()), len(m.Rules()))
	return err
}
