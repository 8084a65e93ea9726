package artifact

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/streamspace/browser-orchestrator/internal/logging"
	"github.com/streamspace/browser-orchestrator/internal/model"
)

// Ledger persists artifacts that permanently failed upload so a periodic
// sweep can retry them across a process restart — the original's S3Writer
// model assumed one long-lived process and never needed this (SPEC_FULL.md
// "Artifact retry sweep").
type Ledger struct {
	mu   sync.Mutex
	path string
}

// NewLedger returns a Ledger backed by a newline-delimited JSON file at path.
// The file is created by the first append, not here.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// ledgerEntry stores an artifact together with its local path, which
// model.Artifact leaves out of its JSON encoding.
type ledgerEntry struct {
	model.Artifact
	LocalPath string `json:"local_path"`
}

func (l *Ledger) append(art model.Artifact) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(ledgerEntry{Artifact: art, LocalPath: art.LocalPath})
}

// drain reads every entry out of the ledger and truncates it, returning the
// entries for the sweeper to retry.
func (l *Ledger) drain() ([]model.Artifact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []model.Artifact
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry ledgerEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err == nil {
			entry.Artifact.LocalPath = entry.LocalPath
			entries = append(entries, entry.Artifact)
		}
	}
	f.Close()
	if err := os.Truncate(l.path, 0); err != nil {
		return entries, err
	}
	return entries, nil
}

// Sweeper periodically retries artifacts recorded in a Ledger, scheduled
// with robfig/cron the way the teacher schedules its periodic jobs
// (spec.md's Non-goals don't exclude this durability improvement).
type Sweeper struct {
	uploader *Uploader
	ledger   *Ledger
	cron     *cron.Cron
	log      zerolog.Logger
}

// NewSweeper binds uploader (whose upload failures get recorded into
// ledger) to a cron schedule. Call Start to begin running.
func NewSweeper(uploader *Uploader, ledger *Ledger) *Sweeper {
	s := &Sweeper{
		uploader: uploader,
		ledger:   ledger,
		cron:     cron.New(),
		log:      logging.Component("artifact.sweeper"),
	}
	uploader.onPermanentFailure = func(art model.Artifact) {
		if err := s.ledger.append(art); err != nil {
			s.log.Warn().Err(err).Str("handle", art.Handle).Msg("failed to record artifact in retry ledger")
		}
	}
	return s
}

// Start schedules the sweep at spec (standard 5-field cron syntax) and
// begins running. Stop must be called to release the cron goroutine.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Sweeper) sweep() {
	entries, err := s.ledger.drain()
	if err != nil {
		s.log.Warn().Err(err).Msg("artifact retry sweep: failed to drain ledger")
		return
	}
	if len(entries) == 0 {
		return
	}
	s.log.Info().Int("count", len(entries)).Msg("artifact retry sweep: resubmitting")
	for _, art := range entries {
		art.Attempts = 0
		s.uploader.Submit(art)
	}
}
