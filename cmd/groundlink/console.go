package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"groundlink/internal/app"
	"groundlink/internal/audit"
	"groundlink/internal/link"
	"groundlink/internal/protocol"
	"groundlink/internal/sequencer"
	"groundlink/internal/standsim"
	"groundlink/internal/station"
	"groundlink/internal/telemetry"
)

// consoleDeps is everything the operator commands reach for.
type consoleDeps struct {
	svc   *station.Service
	store *telemetry.Store
	// sim is non-nil in dry-run mode only.
	sim         *standsim.Simulator
	transitions *audit.TransitionRepo
	events      *audit.LinkEventRepo
	outcomeWait time.Duration
}

func newConsole(deps consoleDeps) *ishell.Shell {
	shell := ishell.New()
	shell.Println("groundlink launch console. Type help for commands.")
	shell.SetPrompt(promptFor(deps.svc.LaunchState().To))

	addSubmitCmd(shell, deps, "ping", nil, "check the stand is responding", protocol.KindPing)
	addSubmitCmd(shell, deps, "arm", nil, "arm the stand; requires idle state", protocol.KindArm)
	addSubmitCmd(shell, deps, "disarm", nil, "return an armed stand to idle", protocol.KindDisarm)
	addSubmitCmd(shell, deps, "abort", []string{"stop"}, "stop the sequence and safe the stand", protocol.KindAbort)
	addSubmitCmd(shell, deps, "reset", nil, "recycle the stand to idle after flight, abort or fault", protocol.KindReset)

	shell.AddCmd(&ishell.Cmd{
		Name: "fire",
		Help: "start the countdown; requires armed state and healthy telemetry",
		Func: func(c *ishell.Context) {
			c.Print("confirm FIRE [y/N]: ")
			answer := strings.ToLower(strings.TrimSpace(c.ReadLine()))
			if answer != "y" && answer != "yes" {
				c.Println("fire not confirmed")
				return
			}
			submitAndWait(c, deps, protocol.KindFire)
			c.SetPrompt(promptFor(deps.svc.LaunchState().To))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "show link, launch state and latest telemetry",
		Func: func(c *ishell.Context) {
			printStatus(c, deps)
			c.SetPrompt(promptFor(deps.svc.LaunchState().To))
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "log",
		Help: "[N]  show the last N launch state transitions (default 10)",
		Func: func(c *ishell.Context) {
			printTransitions(c, deps)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "events",
		Help: "[N]  show the last N link events (default 10)",
		Func: func(c *ishell.Context) {
			printLinkEvents(c, deps)
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "version",
		Help: "show the build version",
		Func: func(c *ishell.Context) {
			c.Println(app.BuildVersionWithDate())
		},
	})

	if deps.sim != nil {
		shell.AddCmd(&ishell.Cmd{
			Name: "estop",
			Help: "trip the simulated stand's emergency stop",
			Func: func(c *ishell.Context) {
				deps.sim.EStop()
				c.Println("stand e-stop tripped")
			},
		})
	}

	return shell
}

func addSubmitCmd(shell *ishell.Shell, deps consoleDeps, name string, aliases []string, help string, kind protocol.Kind) {
	shell.AddCmd(&ishell.Cmd{
		Name:    name,
		Aliases: aliases,
		Help:    help,
		Func: func(c *ishell.Context) {
			submitAndWait(c, deps, kind)
			c.SetPrompt(promptFor(deps.svc.LaunchState().To))
		},
	})
}

func submitAndWait(c *ishell.Context, deps consoleDeps, kind protocol.Kind) {
	ctx, cancel := context.WithTimeout(context.Background(), deps.outcomeWait)
	defer cancel()

	handle, err := deps.svc.Submit(ctx, kind)
	if err != nil {
		c.Err(err)
		return
	}

	select {
	case res := <-handle.Outcome():
		c.Println(formatResult(kind, res))
	case <-ctx.Done():
		c.Err(fmt.Errorf("no outcome for %s after %s", kind, deps.outcomeWait))
	}
}

func printStatus(c *ishell.Context, deps consoleDeps) {
	st := deps.svc.LaunchState()
	c.Printf("state:     %s\n", st.To)
	if st.To == sequencer.StateCountdown {
		c.Printf("remaining: t-%d\n", st.Remaining)
	}
	c.Printf("connected: %v\n", deps.svc.Connected())
	c.Printf("remote:    %s\n", deps.svc.Remote())

	readings := deps.store.Snapshot()
	if len(readings) == 0 {
		c.Println("telemetry: none received")
		return
	}
	now := time.Now()
	for _, r := range readings {
		c.Printf("  %s (%s ago)\n", r, now.Sub(r.ReceivedAt).Round(100*time.Millisecond))
	}
}

func printTransitions(c *ishell.Context, deps consoleDeps) {
	if deps.transitions == nil {
		c.Println("audit log disabled")
		return
	}
	rows, err := deps.transitions.ListRecent(context.Background(), listLimit(c.Args))
	if err != nil {
		c.Err(err)
		return
	}
	for _, row := range rows {
		c.Printf("%s  %s -> %s  (%s)\n", row.At.Format("15:04:05.000"), row.From, row.To, row.Cause)
	}
}

func printLinkEvents(c *ishell.Context, deps consoleDeps) {
	if deps.events == nil {
		c.Println("audit log disabled")
		return
	}
	rows, err := deps.events.ListRecent(context.Background(), listLimit(c.Args))
	if err != nil {
		c.Err(err)
		return
	}
	for _, row := range rows {
		c.Printf("%s  %s\n", row.At.Format("15:04:05.000"), formatLinkEventRow(row))
	}
}

func listLimit(args []string) int {
	if len(args) == 0 {
		return 10
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 10
	}

	return n
}

func promptFor(state sequencer.State) string {
	return fmt.Sprintf("[%s] > ", state)
}

func formatResult(kind protocol.Kind, res link.Result) string {
	name := strings.ToUpper(kind.String())
	switch res.Outcome {
	case link.OutcomeAcked:
		return fmt.Sprintf("%s acknowledged (seq %03d)", name, res.Seq)
	case link.OutcomeNacked:
		return fmt.Sprintf("%s refused: %s (seq %03d)", name, res.Reason, res.Seq)
	case link.OutcomeLinkLost:
		return fmt.Sprintf("%s undelivered: link lost", name)
	case link.OutcomeCancelled:
		return fmt.Sprintf("%s cancelled", name)
	default:
		return fmt.Sprintf("%s %s", name, res.Outcome)
	}
}

func formatLinkEventRow(row audit.LinkEventRow) string {
	switch row.Type {
	case "resolved":
		s := fmt.Sprintf("resolved %s %s (seq %03d)", row.Kind, row.Outcome, row.Seq)
		if row.Reason != "" {
			s += " reason " + row.Reason
		}
		return s
	case "remote":
		return fmt.Sprintf("remote %s", row.Kind)
	default:
		return row.Type
	}
}
