package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "facewatch",
	Short: "Live face recognition over video streams",
	Long: `Facewatch reads a video stream (file, RTSP/HTTP URL or camera device),
recognises enrolled people frame by frame and publishes the annotated video
and the recognition results over HTTP. Results can be collated into an
attendance sheet.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")
}

func initConfig() {
	// env file is optional, don't fail if not found
	_ = godotenv.Load(envFile)
}
