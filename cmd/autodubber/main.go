package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "autodubber",
		Short: "AI video dubbing service",
		Long:  "autodubber transcribes a video, synthesizes a dubbed voiceover, and renders the result, streaming progress to connected clients.",
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
