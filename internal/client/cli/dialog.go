package cli

import "fmt"

// terminalDialog renders the session-expiration warning in the terminal.
// The watchdog calls it from its event loop; the user answers through the
// regular REPL with "extend" or "logout".
type terminalDialog struct{}

func (d *terminalDialog) Open(remaining int) {
	printlnFn("")
	printlnFn("*** Your session is about to expire ***")
	printlnFn(fmt.Sprintf("Time remaining: %s", formatCountdown(remaining)))
	printlnFn("Type 'extend' to stay signed in, or 'logout' to end the session now.")
}

// Tick reprints the countdown once a minute, then every second during the
// final ten, so the warning stays visible without flooding the terminal.
func (d *terminalDialog) Tick(remaining int) {
	if remaining > 10 && remaining%60 != 0 {
		return
	}
	printlnFn(fmt.Sprintf("Session expires in %s (type 'extend' to stay signed in)", formatCountdown(remaining)))
}

func (d *terminalDialog) Close() {
	printlnFn("Session warning dismissed.")
}

func formatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
