// Package app wires configuration into a running coordinator with its
// handlers, stores and journal. Both binaries build on it.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vthunder/budintel/internal/activity"
	"github.com/vthunder/budintel/internal/bus"
	"github.com/vthunder/budintel/internal/calstore"
	"github.com/vthunder/budintel/internal/config"
	"github.com/vthunder/budintel/internal/coordinator"
	"github.com/vthunder/budintel/internal/gtd"
	"github.com/vthunder/budintel/internal/handlers"
	"github.com/vthunder/budintel/internal/health"
	"github.com/vthunder/budintel/internal/integrations/calendar"
	"github.com/vthunder/budintel/internal/intent"
	"github.com/vthunder/budintel/internal/llm"
	"github.com/vthunder/budintel/internal/logging"
	"github.com/vthunder/budintel/internal/profiling"
)

// Options adjusts wiring beyond what the config file covers
type Options struct {
	// Classify with the correction rules only, without asking Ollama
	RulesOnly bool
}

// App is the assembled system
type App struct {
	Config      config.Config
	Bus         *bus.Bus
	Calendar    *handlers.Calendar
	Tasks       *handlers.Tasks
	Coordinator *coordinator.Coordinator
	Journal     *activity.Log
	Health      *health.Monitor
	Profiler    *profiling.Profiler

	gtdStore *gtd.GTDStore
	closers  []func() error
}

// New builds the system described by cfg. cfg should already be validated.
func New(cfg config.Config, opts Options) (*App, error) {
	if err := os.MkdirAll(cfg.StatePath, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	a := &App{Config: cfg, Bus: bus.New()}
	loc := cfg.Location()

	events, err := a.eventStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Calendar = handlers.NewCalendar(events, a.Bus, loc)

	a.gtdStore = gtd.NewGTDStore(cfg.StatePath)
	if err := a.gtdStore.Load(); err != nil {
		logging.Warn("app", "Failed to load GTD store: %v", err)
	}
	a.Tasks = handlers.NewTasks(a.gtdStore, a.Bus, loc)

	a.Journal = activity.New(cfg.StatePath)

	var backend intent.Backend
	if !opts.RulesOnly {
		client := llm.NewClient(cfg.OllamaURL, cfg.ClassifierModel)
		client.SetJSONMode(true)
		backend = client
		logging.Info("app", "Classifier backend: %s at %s", client.Model(), cfg.OllamaURL)
	} else {
		logging.Info("app", "Classifier backend disabled, using correction rules only")
	}

	if level := profiling.ParseLevel(cfg.ProfilingLevel); level != profiling.LevelOff {
		systemPath := filepath.Join(cfg.StatePath, "system")
		if err := os.MkdirAll(systemPath, 0755); err != nil {
			a.Close()
			return nil, fmt.Errorf("create system dir: %w", err)
		}
		p, err := profiling.New(level, filepath.Join(systemPath, "profile.jsonl"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Profiler = p
		a.closers = append(a.closers, p.Close)
		logging.Info("app", "Profiling enabled (%s)", level)
	}

	a.Coordinator = coordinator.New(coordinator.Deps{
		Bus:        a.Bus,
		Calendar:   a.Calendar,
		Tasks:      a.Tasks,
		Classifier: intent.NewClassifier(backend),
		Journal:    a.Journal,
		Profiler:   a.Profiler,
	}, coordinator.OptionsFrom(cfg.Intelligence))

	if mon, err := health.NewMonitor(); err == nil {
		a.Health = mon
	} else {
		logging.Warn("app", "Process health unavailable: %v", err)
	}

	return a, nil
}

func (a *App) eventStore() (handlers.EventStore, error) {
	switch a.Config.CalendarBackend {
	case config.CalendarGoogle:
		client, err := calendar.NewClient(calendar.Config{
			CredentialsFile: a.Config.GoogleCredentialsFile,
			CalendarID:      a.Config.GoogleCalendarID,
		})
		if err != nil {
			return nil, fmt.Errorf("google calendar: %w", err)
		}
		logging.Info("app", "Calendar backend: google (%s)", client.CalendarID())
		return calendar.NewStore(client), nil
	default:
		store, err := calstore.Open(a.Config.StatePath)
		if err != nil {
			return nil, fmt.Errorf("local calendar: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		logging.Info("app", "Calendar backend: local")
		return store, nil
	}
}

// Close stops every session, persists tasks and releases stores
func (a *App) Close() error {
	if a.Coordinator != nil {
		a.Coordinator.Close()
	}
	if a.Health != nil {
		a.Health.Stop()
	}

	var errs []error
	if a.gtdStore != nil {
		if err := a.gtdStore.Save(); err != nil {
			errs = append(errs, fmt.Errorf("save tasks: %w", err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
