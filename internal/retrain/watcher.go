package retrain

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSnapshotWatcher polls the snapshot store on a cron schedule and
// activates any higher-versioned snapshot found there. This is the upgrade
// path while retraining is disabled: an offline process (or an operator)
// drops a new snapshot file into the directory and it goes live without a
// restart.
// The schedule is a standard 5-field cron expression (minute hour
// day-of-month month day-of-week), e.g. "*/10 * * * *" for every 10 minutes.
func (s *Scheduler) StartSnapshotWatcher(schedule string) {
	if schedule == "" {
		log.Println("Snapshot watcher disabled (snapshot_watch_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid snapshot_watch_schedule '%s': %v (watcher disabled)", schedule, err)
		return
	}

	log.Printf("Snapshot watcher scheduled (cron: %s) on %s", schedule, s.snaps.Dir())

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			time.Sleep(next.Sub(now))
			s.CheckExternalSnapshot()
		}
	}()
}

// CheckExternalSnapshot loads the newest stored snapshot and swaps it in if
// it is newer than the active one. Corrupt or mismatched files are logged
// and skipped; the active snapshot stays untouched.
func (s *Scheduler) CheckExternalSnapshot() {
	latest, err := s.snaps.LatestVersion()
	if err != nil {
		log.Printf("snapshot watch: %v", err)
		return
	}
	if latest <= s.engine.Version() {
		return
	}

	snap, err := s.snaps.LoadLatest()
	if err != nil {
		log.Printf("snapshot watch: %v", err)
		return
	}
	if snap.Version <= s.engine.Version() {
		return
	}
	if snap.Network.InputSize != s.opts.InputSize {
		log.Printf("snapshot watch: ignoring v%d, input size %d does not match schema length %d",
			snap.Version, snap.Network.InputSize, s.opts.InputSize)
		return
	}

	s.engine.Swap(snap)
	log.Printf("snapshot watch: activated externally supplied snapshot v%d", snap.Version)
}
