package observability

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Dashboard owns the terminal: the banner, a fixed status line and a
// scrolling log region below it. All writes go through one mutex so the
// cursor save/restore of the status line is never interleaved with logs.
type Dashboard struct {
	status  *Status
	out     io.Writer
	started time.Time

	mu       sync.Mutex
	radarIdx int
}

func NewDashboard(status *Status, out io.Writer) *Dashboard {
	return &Dashboard{
		status:  status,
		out:     out,
		started: time.Now(),
	}
}

type termWriter struct {
	d *Dashboard
}

func (tw termWriter) Write(p []byte) (n int, err error) {
	tw.d.mu.Lock()
	defer tw.d.mu.Unlock()
	return os.Stderr.Write(p)
}

// Writer returns an io.Writer for log output that is serialised with the
// status line.
func (d *Dashboard) Writer() io.Writer {
	return termWriter{d: d}
}

func (d *Dashboard) PrintBanner() {
	fmt.Fprint(d.out, "\033[2J\033[H")

	banner := `
   ______ ____   ____  ______ ______ _  __
  / ____// __ \ / __ \/_  __// ____/| |/ /
 / /    / / / // /_/ / / /  / __/   |   /
/ /___ / /_/ // _, _/ / /  / /___  /   |
\____/ \____//_/ |_| /_/  /_____/ /_/|_|

        >> GOALS IN, RESULTS OUT <<
`

	width := termWidth()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Fprintf(d.out, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func (d *Dashboard) Initialize() {
	// 1-9 banner, 10 status, 12+ scrolling logs
	fmt.Fprint(d.out, "\033[12;r")
	fmt.Fprint(d.out, "\033[12;1H")
}

func (d *Dashboard) Cleanup() {
	fmt.Fprint(d.out, "\033[r\033[2J\033[H")
}

// PrintLiveStatus redraws the status line in place.
func (d *Dashboard) PrintLiveStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(d.started).Round(time.Second)
	memMB := float64(m.Alloc) / 1024 / 1024
	snap := d.status.Snapshot()

	pulseIcon, pulseText, pulseColor := "🔴", "OFFLINE", colorNeonMag
	delta := time.Since(snap.LastHeartbeat)
	if delta < 40*time.Second {
		pulseIcon, pulseText, pulseColor = "🟢", "HEALTHY", colorNeonCyan
	} else if delta < 90*time.Second {
		pulseIcon, pulseText, pulseColor = "🟡", "LAGGING", colorPurple
	}

	icon := "💤"
	roleColor := colorReset
	switch snap.Role {
	case RoleMaster:
		icon, roleColor = "🛰️", colorNeonCyan
	case RoleWorker, RoleResponder:
		icon, roleColor = "⚙️", colorNeonMag
	}

	d.mu.Lock()
	radar := " "
	if snap.Role != RoleIdle {
		radar = radarFrames[d.radarIdx]
		d.radarIdx = (d.radarIdx + 1) % len(radarFrames)
	}
	d.mu.Unlock()

	displayTask := snap.ActiveTask
	if displayTask == "" {
		displayTask = "Waiting..."
	}
	if len(displayTask) > 25 {
		displayTask = displayTask[:22] + "..."
	}

	barWidth := 20
	filled := clamp(snap.Progress*barWidth/100, 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)

	statusStr := fmt.Sprintf(
		"\033[s\033[10;1H\033[K%s[%s] %s%s %-10s%s | %s%s %-9s%s [%s] %s%3d%%%s %s%s%s [%v] [%.1fMB]\033[u",
		colorReset,
		snap.LastHeartbeat.Format("15:04:05"),
		pulseColor, pulseIcon, pulseText, colorReset,
		roleColor, icon, snap.Role, colorReset,
		displayTask,
		colorNeonCyan, snap.Progress, colorReset,
		bar,
		colorPurple, radar+colorReset,
		uptime,
		memMB,
	)

	d.mu.Lock()
	fmt.Fprint(d.out, statusStr)
	d.mu.Unlock()
}
