package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/siphon/internal/domain"
)

// Row is the display state of one item.
type Row struct {
	ID            string
	Title         string
	Status        domain.Status
	Progress      float64
	BytesReceived int64
	TotalBytes    int64
	ETA           *float64
	SegmentsDone  int
	SegmentsTotal int
	Message       string
	StartTime     time.Time
	LastUpdated   time.Time
	Index         int
}

func (r *Row) complete() bool {
	return r.Status.IsTerminal()
}

type ErrorReport struct {
	Title string
	Error string
	Time  time.Time
}

// Manager redraws one line per item (plus a progress line for active ones) on a ticker.
type Manager struct {
	out         io.Writer
	rows        map[string]*Row
	mutex       sync.RWMutex
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	rowCount    int
	displayWg   sync.WaitGroup
	live        bool
	note        string
}

// NewManager draws to out; live enables cursor movement between redraws.
func NewManager(out io.Writer, live bool) *Manager {
	return &Manager{
		out:         out,
		rows:        make(map[string]*Row),
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
		live:        live,
	}
}

// Update applies the item's state, registering a row for unseen ids.
func (m *Manager) Update(item domain.Item) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	row, ok := m.rows[item.ID]
	if !ok {
		m.rowCount++
		row = &Row{ID: item.ID, StartTime: time.Now(), Index: m.rowCount}
		m.rows[item.ID] = row
	}
	wasDone := row.complete()
	row.Title = item.Title
	if row.Title == "" {
		row.Title = item.Anchor
	}
	if item.EpisodeInfo != "" {
		row.Title += " " + item.EpisodeInfo
	}
	row.Status = item.Status
	row.Progress = item.Progress
	row.BytesReceived = item.BytesReceived
	row.TotalBytes = item.TotalBytes
	row.LastUpdated = time.Now()
	switch item.Status {
	case domain.StatusCompleted:
		row.Message = fmt.Sprintf("Saved %s (%s)", item.FileName, formatBytes(item.BytesReceived))
		if item.Partial {
			row.Message += " [partial]"
		}
	case domain.StatusFailed:
		row.Message = fmt.Sprintf("Failed %s", row.Title)
		if !wasDone {
			m.errors = append(m.errors, ErrorReport{Title: row.Title, Error: item.Error, Time: time.Now()})
		}
	case domain.StatusCancelled:
		row.Message = fmt.Sprintf("Cancelled %s", row.Title)
	case domain.StatusInitiated, domain.StatusProbing:
		row.Message = fmt.Sprintf("Looking for media in %s", row.Title)
	default:
		row.Message = fmt.Sprintf("Downloading %s", row.Title)
	}
}

// SetTransfer records the transfer details that are not part of an item.
func (m *Manager) SetTransfer(id string, eta *float64, done, total int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if row, ok := m.rows[id]; ok {
		row.ETA, row.SegmentsDone, row.SegmentsTotal = eta, done, total
	}
}

// Note shows a one-off line outside the item rows.
func (m *Manager) Note(text string) {
	if !m.live {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+FInfo(text))
		return
	}
	m.mutex.Lock()
	m.note = text
	m.mutex.Unlock()
}

func (m *Manager) Remove(id string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.rows, id)
}

func (m *Manager) Row(id string) (Row, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return Row{}, false
	}
	return *row, true
}

// Pending reports how many rows have not reached a terminal state.
func (m *Manager) Pending() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	n := 0
	for _, row := range m.rows {
		if !row.complete() {
			n++
		}
	}
	return n
}

func (m *Manager) statusIndicator(status domain.Status) string {
	switch status {
	case domain.StatusCompleted:
		return successStyle.Render(StyleSymbols["pass"])
	case domain.StatusFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case domain.StatusCancelled:
		return warningStyle.Render(StyleSymbols["warning"])
	case domain.StatusInitiated, domain.StatusProbing:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) styledMessage(row *Row) string {
	switch row.Status {
	case domain.StatusCompleted:
		return successStyle.Render(row.Message)
	case domain.StatusFailed:
		return errorStyle.Render(row.Message)
	case domain.StatusCancelled:
		return warningStyle.Render(row.Message)
	}
	return pendingStyle.Render(row.Message)
}

func (m *Manager) sortedRows() (active, completed []*Row) {
	all := make([]*Row, 0, len(m.rows))
	for _, row := range m.rows {
		all = append(all, row)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Index < all[j].Index
	})
	for _, row := range all {
		if row.complete() {
			completed = append(completed, row)
		} else {
			active = append(active, row)
		}
	}
	return active, completed
}

func (m *Manager) progressLine(row *Row) string {
	elapsed := time.Since(row.StartTime).Seconds()
	text := formatBytes(row.BytesReceived)
	if row.TotalBytes > 0 {
		text += " / " + formatBytes(row.TotalBytes)
	}
	if row.SegmentsTotal > 0 {
		text += fmt.Sprintf(" %s segment %d/%d", StyleSymbols["dot"], row.SegmentsDone, row.SegmentsTotal)
	}
	line := fmt.Sprintf("%s%s %s %s", ProgressBar(row.Progress, 30), debugStyle.Render(text), StyleSymbols["bullet"],
		debugStyle.Render(formatSpeed(row.BytesReceived, elapsed)))
	if row.ETA != nil {
		line += " " + StyleSymbols["bullet"] + " " + debugStyle.Render(FormatETA(*row.ETA))
	}
	return line
}

func formatSpeed(bytes int64, elapsed float64) string {
	if elapsed <= 0 || bytes <= 0 {
		return "0 B/s"
	}
	return formatBytes(int64(float64(bytes)/elapsed)) + "/s"
}

// Render returns the current frame limited to maxLines.
func (m *Manager) Render(maxLines int) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	active, completed := m.sortedRows()
	needed := 2*len(active) + len(completed)
	if needed > maxLines {
		keep := max(0, maxLines-2*len(active))
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}
	var lines []string
	indent := strings.Repeat(" ", 2)
	for _, row := range active {
		elapsed := time.Since(row.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, m.statusIndicator(row.Status), debugStyle.Render(elapsed.String()), m.styledMessage(row)))
		if row.Status == domain.StatusDownloading {
			lines = append(lines, strings.Repeat(" ", 6)+m.progressLine(row))
		}
	}
	for _, row := range completed {
		took := row.LastUpdated.Sub(row.StartTime).Round(time.Second)
		lines = append(lines, fmt.Sprintf("%s%s %s %s", indent, m.statusIndicator(row.Status), debugStyle.Render(took.String()), m.styledMessage(row)))
	}
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}

func (m *Manager) updateDisplay() {
	if !m.live {
		return
	}
	lines := m.Render(terminalHeight() - 4)
	m.mutex.RLock()
	if m.note != "" {
		lines = append([]string{strings.Repeat(" ", 2) + infoStyle.Render(m.note)}, lines...)
	}
	m.mutex.RUnlock()
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.ShowSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(err.Title))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %s", err.Error)))
	}
}

// ShowSummary prints the final frame (when not live) and the totals.
func (m *Manager) ShowSummary() {
	if !m.live {
		for _, line := range m.Render(1 << 16) {
			fmt.Fprintln(m.out, line)
		}
	}
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	fmt.Fprintln(m.out)
	var success, failures int
	for _, row := range m.rows {
		switch row.Status {
		case domain.StatusCompleted:
			success++
		case domain.StatusFailed:
			failures++
		}
	}
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Completed %d of %d", success, len(m.rows))))
	if failures > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", failures, len(m.rows))))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
