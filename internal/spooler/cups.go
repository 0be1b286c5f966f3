package spooler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
)

// Runner executes a spooler command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command on the host.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		return out, fmt.Errorf("%s failed: %w: %s", name, err, msg)
	}
	return out, nil
}

// CUPS drives the CUPS command-line tools.
type CUPS struct {
	run Runner
}

var _ Spooler = (*CUPS)(nil)

// NewCUPS builds the adapter; a nil runner uses ExecRunner.
func NewCUPS(run Runner) *CUPS {
	if run == nil {
		run = ExecRunner
	}
	return &CUPS{run: run}
}

// ListPrinters enumerates the CUPS queues with their descriptive metadata.
func (c *CUPS) ListPrinters(ctx context.Context) ([]model.Printer, error) {
	out, err := c.run(ctx, "lpstat", "-v")
	if err != nil {
		if bytes.Contains(out, []byte("No destinations")) || strings.Contains(err.Error(), "No destinations") {
			return nil, nil
		}
		return nil, err
	}

	queues := parseDevices(out)
	printers := make([]model.Printer, 0, len(queues))
	for _, q := range queues {
		p := model.Printer{
			Name:       q.name,
			SystemName: q.name,
			URI:        q.uri,
		}

		if opts, err := c.run(ctx, "lpoptions", "-p", q.name); err == nil {
			attrs := parseOptions(string(opts))
			if info := attrs["printer-info"]; info != "" {
				p.Name = info
				p.Description = info
			}
			p.Location = attrs["printer-location"]
			p.MakeAndModel = attrs["printer-make-and-model"]
		}

		if extended, err := c.run(ctx, "lpoptions", "-p", q.name, "-l"); err == nil {
			p.MediaSizes = parsePageSizes(extended)
		}

		printers = append(printers, p)
	}
	return printers, nil
}

// Submit prints path on printer and returns the CUPS request id.
func (c *CUPS) Submit(ctx context.Context, printer, path, title string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: file path is empty", ErrSubmitFailed)
	}
	args := []string{"-d", printer}
	if title != "" {
		args = append(args, "-t", title)
	}
	args = append(args, path)

	out, err := c.run(ctx, "lp", args...)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return "", fmt.Errorf("%w: %s", ErrPrinterNotFound, printer)
		}
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	handle := parseRequestID(string(out))
	if handle == "" {
		return "", fmt.Errorf("%w: no request id in lp output %q", ErrSubmitFailed, strings.TrimSpace(string(out)))
	}
	return handle, nil
}

// Jobs lists printer's active queue or its completed history.
func (c *CUPS) Jobs(ctx context.Context, printer string, scope JobScope) ([]LocalJob, error) {
	out, err := c.run(ctx, "lpstat", "-l", "-W", scope.String(), "-o", printer)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "Invalid destination") {
			return nil, fmt.Errorf("%w: %s", ErrPrinterNotFound, printer)
		}
		return nil, err
	}
	return parseJobs(out, scope), nil
}

type device struct {
	name string
	uri  string
}

// parseDevices reads "device for QUEUE: URI" lines.
func parseDevices(out []byte) []device {
	var devices []device
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		rest, ok := strings.CutPrefix(line, "device for ")
		if !ok {
			continue
		}
		name, uri, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		devices = append(devices, device{
			name: strings.TrimSpace(name),
			uri:  strings.TrimSpace(uri),
		})
	}
	return devices
}

// parseOptions splits lpoptions output (key=value pairs, values may be
// single or double quoted, backslash escapes allowed).
func parseOptions(s string) map[string]string {
	attrs := make(map[string]string)
	var key, val strings.Builder
	inValue := false
	var quote rune
	escaped := false

	flush := func() {
		if key.Len() > 0 {
			attrs[key.String()] = val.String()
		}
		key.Reset()
		val.Reset()
		inValue = false
	}

	for _, r := range s {
		switch {
		case escaped:
			val.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				val.WriteRune(r)
			}
		case inValue && (r == '\'' || r == '"'):
			quote = r
		case r == ' ' || r == '\n' || r == '\t':
			flush()
		case !inValue && r == '=':
			inValue = true
		case inValue:
			val.WriteRune(r)
		default:
			key.WriteRune(r)
		}
	}
	flush()
	return attrs
}

// parsePageSizes reads the PageSize line of "lpoptions -l", e.g.
// "PageSize/Media Size: *A4 Letter Legal". The default carries a '*'.
func parsePageSizes(out []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "PageSize/") && !strings.HasPrefix(line, "PageSize:") {
			continue
		}
		_, list, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		var sizes []string
		for _, s := range strings.Fields(list) {
			if s = strings.TrimPrefix(s, "*"); s != "" {
				sizes = append(sizes, s)
			}
		}
		return sizes
	}
	return nil
}

// parseRequestID extracts "Q-123" from "request id is Q-123 (1 file(s))".
func parseRequestID(out string) string {
	_, rest, ok := strings.Cut(out, "request id is ")
	if !ok {
		return ""
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// parseJobs reads "lpstat -l -o" output: one unindented line per job
// followed by indented detail lines, of which "Alerts:" lists the
// job-state-reasons.
func parseJobs(out []byte, scope JobScope) []LocalJob {
	var jobs []LocalJob
	var current *LocalJob

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			fields := strings.Fields(line)
			jobs = append(jobs, LocalJob{Handle: fields[0]})
			current = &jobs[len(jobs)-1]
			continue
		}
		if current == nil {
			continue
		}
		if reasons, ok := strings.CutPrefix(strings.TrimSpace(line), "Alerts:"); ok {
			current.Reason = strings.TrimSpace(reasons)
		}
	}

	for i := range jobs {
		jobs[i].State = stateFromReason(jobs[i].Reason, scope)
	}
	return jobs
}

func stateFromReason(reason string, scope JobScope) LocalState {
	r := strings.ToLower(reason)
	if scope == Active {
		switch {
		case strings.Contains(r, "job-printing"):
			return StateProcessing
		case strings.Contains(r, "hold"), strings.Contains(r, "held"):
			return StateHeld
		default:
			return StatePending
		}
	}
	switch {
	case strings.Contains(r, "job-completed-successfully"):
		return StateCompleted
	case strings.Contains(r, "cancel"):
		return StateCancelled
	case strings.Contains(r, "abort"), strings.Contains(r, "error"), strings.Contains(r, "fail"):
		return StateAborted
	case strings.Contains(r, "job-stopped"):
		return StateStopped
	default:
		return StateCompleted
	}
}
