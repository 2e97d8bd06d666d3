package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docspark",
	Short: "DocSpark document conversion API",
	Long: `docspark converts uploaded documents between pdf, docx, txt, html, md,
rtf and csv through a chain of conversion engines.

Configuration is read from the environment (and an optional .env or
config.yaml in the working directory):

  PORT                 listen port (default 3000)
  DATA_DIR             uploads, converted files and the sqlite database
  STORE_DRIVER         sqlite, postgres, redis or memory
  ABUSE_BACKEND        memory or redis
  ARTIFACT_STORE       local or r2
  CHALLENGE_PROVIDER   none, turnstile or hcaptcha

Running docspark without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd, sweepCmd)
}
