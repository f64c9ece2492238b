package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"spdev/config"
)

// PlanMode prints what DeviceMode would start, without starting it.
type PlanMode struct {
	Plans []Plan
	Out   io.Writer
}

// Run writes one line per device.
func (m *PlanMode) Run(context.Context) error {
	out := m.Out
	if out == nil {
		out = os.Stdout
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE\tPATTERN\tSOCKETS\tLOOP\tFRONT\tBACK\tHOOKS")
	for i := range m.Plans {
		p := &m.Plans[i]
		sockets := p.Front.String()
		if !p.Loopback() {
			sockets += "/" + p.Back.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.Pattern, sockets, p.Strategy,
			joinEndpoints(p.FrontEndpoints), joinEndpoints(p.BackEndpoints), joinHooks(p.Hooks))
	}
	return w.Flush()
}

func joinEndpoints(eps []config.Endpoint) string {
	if len(eps) == 0 {
		return "-"
	}
	s := make([]string, len(eps))
	for i, ep := range eps {
		s[i] = ep.String()
	}
	return strings.Join(s, ",")
}

func joinHooks(hs []config.HookConfig) string {
	if len(hs) == 0 {
		return "-"
	}
	s := make([]string, len(hs))
	for i, h := range hs {
		switch h.Name {
		case config.HookDigest, config.HookVerifyDigest, config.HookSeal, config.HookOpen:
			h.Arg = "***"
		}
		s[i] = h.String()
	}
	return strings.Join(s, ",")
}
