package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/facewatch/internal/config"
	"github.com/kozaktomas/facewatch/internal/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the recognition settings",
	Long: `Show or change the persisted recognition settings (SETTINGS_PATH).
A running server keeps its own copy; use the /settings page or
PUT /api/v1/settings to change it live.`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current settings as YAML",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings, keeping unset flags at their current value",
	Long: `Change settings, keeping unset flags at their current value.

Examples:
  facewatch settings set --threshold 0.4
  facewatch settings set --use-persistor=false --holding-time 10`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	defaults := settings.Defaults()
	f := settingsSetCmd.Flags()
	f.Float64("threshold", defaults.Threshold, "Maximum cosine distance for a direct match")
	f.Int("holding-time", defaults.HoldingTime, "Seconds a label is remembered for the persistor")
	f.Bool("use-differentiator", defaults.UseDifferentiator, "Accept lenient matches that stand out from the runner-up")
	f.Float64("threshold-lenient-diff", defaults.ThresholdLenientDiff, "Lenient distance for the differentiator")
	f.Float64("similarity-gap", defaults.SimilarityGap, "Minimum distance gap between the two best candidates")
	f.Bool("use-persistor", defaults.UsePersistor, "Carry labels of faces that stay in place")
	f.Float64("threshold-prev", defaults.ThresholdPrev, "Maximum distance to the previous embedding of a face")
	f.Float64("threshold-iou", defaults.ThresholdIOU, "Minimum box overlap with the previous face")
	f.Float64("threshold-lenient-pers", defaults.ThresholdLenientPers, "Lenient distance for the persistor")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	store, err := settings.NewStore(cfg.Paths.SettingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	return printSettings(store.Get())
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	store, err := settings.NewStore(cfg.Paths.SettingsPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	next := applySettingsFlags(cmd, store.Get())
	applied, err := store.Update(next)
	if err != nil {
		return err
	}

	fmt.Printf("Saved settings to %s\n", store.Path())
	return printSettings(applied)
}

// applySettingsFlags copies every flag the user set onto current.
func applySettingsFlags(cmd *cobra.Command, current settings.Settings) settings.Settings {
	next := current
	changed := cmd.Flags().Changed

	floats := map[string]*float64{
		"threshold":              &next.Threshold,
		"threshold-lenient-diff": &next.ThresholdLenientDiff,
		"similarity-gap":         &next.SimilarityGap,
		"threshold-prev":         &next.ThresholdPrev,
		"threshold-iou":          &next.ThresholdIOU,
		"threshold-lenient-pers": &next.ThresholdLenientPers,
	}
	for name, dst := range floats {
		if changed(name) {
			*dst = mustGetFloat64(cmd, name)
		}
	}

	if changed("holding-time") {
		next.HoldingTime = mustGetInt(cmd, "holding-time")
	}
	if changed("use-differentiator") {
		next.UseDifferentiator = mustGetBool(cmd, "use-differentiator")
	}
	if changed("use-persistor") {
		next.UsePersistor = mustGetBool(cmd, "use-persistor")
	}
	return next
}

func printSettings(s settings.Settings) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return enc.Close()
}
