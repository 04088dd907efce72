package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"villagecash/internal/core"
	"villagecash/internal/log"
	"villagecash/internal/report"
	"villagecash/internal/store"
)

// DefaultSpec runs the report every evening at 20:00.
const DefaultSpec = "0 20 * * *"

// Source is what the report job reads from.
type Source interface {
	Refresh(ctx context.Context, village core.VillageRef) (store.Store, error)
	Villages(ctx context.Context) ([]core.Village, error)
	ServerTime(ctx context.Context) (time.Time, error)
}

// Scheduler writes the collections workbook on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	src      Source
	spec     string
	dir      string
	villages []core.VillageRef
	now      func() time.Time
	log      *log.Logger
}

// New creates a scheduler. An empty villages list reports every village the
// backend knows.
func New(src Source, spec, dir string, villages []core.VillageRef, loc *time.Location, logger *log.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = log.FromContext(context.Background())
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		src:      src,
		spec:     spec,
		dir:      dir,
		villages: villages,
		now:      func() time.Time { return time.Now().In(loc) },
		log:      logger.WithComponent(log.ComponentScheduler),
	}
}

// Start registers the report job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runReport); err != nil {
		return fmt.Errorf("schedule report %q: %w", s.spec, err)
	}
	s.log.Info("Starting scheduler", "spec", s.spec, "dir", s.dir)
	s.cron.Start()
	return nil
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.log.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runReport() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	path, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("Failed to write report", log.FieldError, err)
		return
	}
	s.log.Info("Report written", "path", path)
}

// RunOnce reloads every reported village and writes the workbook, returning
// its path. A village that fails to load is left out and logged.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	villages := s.villages
	if len(villages) == 0 {
		vs, err := s.src.Villages(ctx)
		if err != nil {
			return "", err
		}
		for _, v := range vs {
			villages = append(villages, v.Ref())
		}
	}

	// Today's columns follow the backend clock; the file is named by ours.
	today, err := s.src.ServerTime(ctx)
	if err != nil {
		return "", err
	}
	now := s.now()
	reports := make([]report.VillageReport, 0, len(villages))
	for _, v := range villages {
		st, err := s.src.Refresh(ctx, v)
		if err != nil {
			s.log.ErrorContext(ctx, "Skipping village in report",
				log.NewFields().WithVillage(v.String(), v.Key()).WithError(err, log.ErrorTypeNetwork).ToSlice()...)
			continue
		}
		reports = append(reports, report.NewVillageReport(v, st.All(), today))
	}
	return report.SaveWorkbook(s.dir, reports, now)
}
