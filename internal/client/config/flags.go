package config

import (
	"flag"
	"os"
	"time"

	"github.com/taskhive/taskhive/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the backend server
//	-i int      status poll interval, seconds
//	-n int      dialog countdown length, seconds
//	-m int      access-token renew margin, seconds
//	-p string   state directory for profile and cookie files
//
// The function filters os.Args to only the flags it knows about, using
// flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-n", "-m", "-p"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerBaseURL, "a", cfg.ServerBaseURL, "server base URL")
	statusPollInterval := fs.Int("i", int(cfg.StatusPollInterval.Seconds()), "status poll interval (in seconds)")
	fs.IntVar(&cfg.DialogCountdownSeconds, "n", cfg.DialogCountdownSeconds, "dialog countdown length (in seconds)")
	accessRenewMargin := fs.Int("m", int(cfg.AccessRenewMargin.Seconds()), "access token renew margin (in seconds)")
	fs.StringVar(&cfg.StateDir, "p", cfg.StateDir, "state directory")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.StatusPollInterval = time.Duration(*statusPollInterval) * time.Second
	cfg.AccessRenewMargin = time.Duration(*accessRenewMargin) * time.Second
}
