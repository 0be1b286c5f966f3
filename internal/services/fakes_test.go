package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/Riboost-Studio/printer-bridge/internal/model"
	"github.com/Riboost-Studio/printer-bridge/internal/spooler"
	"github.com/Riboost-Studio/printer-bridge/internal/state"
	"github.com/Riboost-Studio/printer-bridge/internal/utils"
)

func testConfig(t *testing.T) *state.ConfigStore {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.InstanceName = "shop-1"
	cfg.APIToken = "test-token"
	cfg.Storage.TempDir = t.TempDir()
	return state.NewConfigStore(cfg)
}

// --- RemoteDirectory ---

type fakeDirectory struct {
	mu        sync.Mutex
	records   map[int64]model.RemotePrinter
	nextID    int64
	listErr   error
	createErr error
	updateErr error
	deleteErr map[int64]error

	creates []model.RemotePrinter
	updates []model.RemotePrinter
	deletes []int64
}

func newFakeDirectory(records ...model.RemotePrinter) *fakeDirectory {
	d := &fakeDirectory{records: make(map[int64]model.RemotePrinter), nextID: 100, deleteErr: map[int64]error{}}
	for _, r := range records {
		d.records[*r.ID] = r
	}
	return d
}

func (d *fakeDirectory) ListPrinters(_ context.Context, instance string) ([]model.RemotePrinter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []model.RemotePrinter
	for _, r := range d.records {
		if r.SpoolerName == "" || r.SpoolerName == instance {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ID < *out[j].ID })
	return out, nil
}

func (d *fakeDirectory) CreatePrinter(_ context.Context, p model.RemotePrinter) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates = append(d.creates, p)
	if d.createErr != nil {
		return 0, d.createErr
	}
	d.nextID++
	id := d.nextID
	p.ID = &id
	d.records[id] = p
	return id, nil
}

func (d *fakeDirectory) UpdatePrinter(_ context.Context, p model.RemotePrinter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates = append(d.updates, p)
	if d.updateErr != nil {
		return d.updateErr
	}
	if _, ok := d.records[*p.ID]; !ok {
		return &APIError{Method: http.MethodPut, Path: "/printers", StatusCode: http.StatusNotFound}
	}
	d.records[*p.ID] = p
	return nil
}

func (d *fakeDirectory) DeletePrinter(_ context.Context, id int64, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deletes = append(d.deletes, id)
	if err := d.deleteErr[id]; err != nil {
		return err
	}
	if _, ok := d.records[id]; !ok {
		return &APIError{Method: http.MethodDelete, Path: fmt.Sprintf("/printers/%d", id), StatusCode: http.StatusNotFound}
	}
	delete(d.records, id)
	return nil
}

func (d *fakeDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.creates) + len(d.updates) + len(d.deletes)
}

func (d *fakeDirectory) reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.creates, d.updates, d.deletes = nil, nil, nil
}

// --- Spooler ---

type submission struct {
	Printer string
	Title   string
	Data    string
}

type fakeSpooler struct {
	mu        sync.Mutex
	printers  []model.Printer
	listErr   error
	submitErr map[string]error
	submits   []submission
	active    map[string][]spooler.LocalJob
	completed map[string][]spooler.LocalJob
	jobCalls  int
	next      int
}

func newFakeSpooler(printers ...model.Printer) *fakeSpooler {
	return &fakeSpooler{
		printers:  printers,
		submitErr: map[string]error{},
		active:    map[string][]spooler.LocalJob{},
		completed: map[string][]spooler.LocalJob{},
	}
}

func (s *fakeSpooler) ListPrinters(context.Context) ([]model.Printer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]model.Printer(nil), s.printers...), nil
}

func (s *fakeSpooler) Submit(_ context.Context, printer, path, title string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.submitErr[printer]; err != nil {
		return "", err
	}
	s.submits = append(s.submits, submission{Printer: printer, Title: title, Data: string(data)})
	s.next++
	handle := fmt.Sprintf("%s-%d", printer, s.next)
	s.active[printer] = append(s.active[printer], spooler.LocalJob{Handle: handle, State: spooler.StatePending})
	return handle, nil
}

func (s *fakeSpooler) Jobs(_ context.Context, printer string, scope spooler.JobScope) ([]spooler.LocalJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobCalls++
	if scope == spooler.Active {
		return append([]spooler.LocalJob(nil), s.active[printer]...), nil
	}
	return append([]spooler.LocalJob(nil), s.completed[printer]...), nil
}

// finish moves handle from the active list to the history with state.
func (s *fakeSpooler) finish(printer, handle string, st spooler.LocalState, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.active[printer][:0]
	for _, j := range s.active[printer] {
		if j.Handle != handle {
			kept = append(kept, j)
		}
	}
	s.active[printer] = kept
	s.completed[printer] = append(s.completed[printer], spooler.LocalJob{Handle: handle, State: st, Reason: reason})
}

func (s *fakeSpooler) submissions() []submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]submission(nil), s.submits...)
}

// --- JobsAPI ---

type fakeJobsAPI struct {
	mu        sync.Mutex
	pending   []model.PrintJob
	jobs      map[int64]model.PrintJob
	media     map[string]Media
	updates   []model.JobStatusUpdate
	updateErr error
	fetchErr  error
	fetches   int
}

func newFakeJobsAPI() *fakeJobsAPI {
	return &fakeJobsAPI{jobs: map[int64]model.PrintJob{}, media: map[string]Media{}}
}

func (a *fakeJobsAPI) FetchPendingJobs(context.Context, string) ([]model.PrintJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return append([]model.PrintJob(nil), a.pending...), nil
}

func (a *fakeJobsAPI) FetchJob(_ context.Context, id int64) (model.PrintJob, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return model.PrintJob{}, &APIError{Method: http.MethodGet, Path: fmt.Sprintf("/print-jobs/%d", id), StatusCode: http.StatusNotFound}
	}
	return job, nil
}

func (a *fakeJobsAPI) UpdateJobStatus(_ context.Context, update model.JobStatusUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.updateErr != nil {
		return a.updateErr
	}
	a.updates = append(a.updates, update)
	return nil
}

func (a *fakeJobsAPI) DownloadMedia(_ context.Context, mediaID string) (Media, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.media[mediaID]
	if !ok {
		return Media{Data: []byte("%PDF-1.4 media " + mediaID), ContentType: "application/pdf"}, nil
	}
	return m, nil
}

func (a *fakeJobsAPI) statusUpdates() []model.JobStatusUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.JobStatusUpdate(nil), a.updates...)
}

func (a *fakeJobsAPI) setUpdateErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updateErr = err
}

type fakeRenderer struct {
	calls int
}

func (r *fakeRenderer) RenderPDF(_ context.Context, html []byte) ([]byte, error) {
	r.calls++
	return append([]byte("%PDF rendered:"), html...), nil
}

var discard = utils.Discard()
