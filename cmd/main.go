package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tankwatch/internal/alerting"
	"tankwatch/internal/control"
	"tankwatch/internal/dashboard"
	"tankwatch/internal/localstore"
	"tankwatch/internal/logger"
	"tankwatch/internal/models"
	"tankwatch/internal/remote"
	"tankwatch/internal/server"
	"tankwatch/internal/store"

	"github.com/spf13/viper"
)

func main() {
	// init logger
	log := logger.Get(logger.InfoLevel)

	// load config.yml
	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	// open local DB
	db, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire remote clients and caches
	cfg := remoteConfig()
	sessions := localstore.NewSessionSQLite(db)
	snapshots := localstore.NewSnapshotSQLite(db)

	auth := remote.NewAuthClient(cfg, log)
	feed := remote.NewFeed(cfg, log)

	sessionStore := store.NewSessionStore(auth, sessions, log)
	data := remote.NewClient(cfg, sessionStore.AccessToken, feed, log)
	stores := store.New(sessionStore, data, log)

	ctrl := control.NewController(data, control.AlwaysConfirm, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed.Start()
	defer feed.Close()

	if err := bootstrapSession(ctx, stores.Session, log); err != nil {
		log.Fatalw("no usable session", "err", err)
	}

	cancelSubs, err := startSync(ctx, stores, data, snapshots, log)
	if err != nil {
		log.Fatalw("failed to start synchronization", "err", err)
	}
	defer cancelSubs()

	// start local dashboard
	srv := &server.Server{}
	apiHandler := dashboard.NewHandler(stores, ctrl, viper.GetString("dashboard.token"), log)
	runHTTPServer(srv, viper.GetString("dashboard.port"), apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the local SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "tankwatch.db")
		dbPath = "tankwatch.db"
	}
	return localstore.InitDB(dbPath)
}

func remoteConfig() remote.Config {
	return remote.Config{
		BaseURL: viper.GetString("service.url"),
		APIKey:  viper.GetString("service.anon_key"),
		FeedURL: viper.GetString("service.feed_url"),
	}
}

// bootstrapSession restores a persisted session, falling back to the
// configured headless credentials.
func bootstrapSession(ctx context.Context, session *store.SessionStore, log *logger.Logger) error {
	session.CheckSession(ctx)
	if session.Snapshot().IsAuthenticated {
		log.Infow("session restored", "user", session.UserID())
		return nil
	}

	email := viper.GetString("service.email")
	password := viper.GetString("service.password")
	if email == "" || password == "" {
		log.Warnw("no persisted session and no credentials configured; dashboard will serve empty caches")
		return nil
	}
	if err := session.SignIn(ctx, email, password); err != nil {
		return err
	}
	log.Infow("signed in", "user", session.UserID())
	return nil
}

// startSync performs the fetch-then-subscribe sequence: devices and alerts
// for the identity, readings for the selected device, plus the local
// breach watch. Returns a func releasing every open subscription.
func startSync(ctx context.Context, stores *store.Store, data remote.DataService, snapshots *localstore.SnapshotSQLite, log *logger.Logger) (func(), error) {
	var subs []*remote.Subscription
	cancelAll := func() {
		for _, s := range subs {
			s.Cancel()
		}
	}

	userID := stores.Session.UserID()
	if userID == "" {
		return cancelAll, nil
	}

	if err := stores.Devices.Fetch(ctx, userID); err != nil {
		return cancelAll, err
	}
	if err := stores.Alerts.Fetch(ctx, userID); err != nil {
		log.Warnw("alert fetch failed", "err", err)
	}

	devSub, err := stores.Devices.Subscribe(userID)
	if err != nil {
		return cancelAll, err
	}
	subs = append(subs, devSub)

	alertSub, err := stores.Alerts.Subscribe(userID)
	if err != nil {
		cancelAll()
		return func() {}, err
	}
	subs = append(subs, alertSub)

	selected := stores.Devices.Selected()
	if selected == nil {
		log.Infow("no device registered; sensor sync idle")
		return cancelAll, nil
	}

	// Show the last persisted reading until live data arrives.
	if snap, err := snapshots.Load(ctx, selected.ID); err != nil {
		log.Warnw("snapshot load failed", "device", selected.ID, "err", err)
	} else {
		stores.Sensors.Prime(snap)
	}

	if err := stores.Sensors.Fetch(ctx, selected.ID, models.HistoryCapacity); err != nil {
		log.Warnw("reading fetch failed", "device", selected.ID, "err", err)
	}
	readSub, err := stores.Sensors.Subscribe(selected.ID)
	if err != nil {
		cancelAll()
		return func() {}, err
	}
	subs = append(subs, readSub)

	watchSub, err := watchReadings(ctx, data, userID, selected.ID, snapshots, log)
	if err != nil {
		cancelAll()
		return func() {}, err
	}
	subs = append(subs, watchSub)

	log.Infow("synchronization started", "user", userID, "device", selected.ID)
	return cancelAll, nil
}

// watchReadings persists each pushed reading locally and logs threshold
// breaches against the user's settings.
func watchReadings(ctx context.Context, data remote.DataService, userID, deviceID string, snapshots *localstore.SnapshotSQLite, log *logger.Logger) (*remote.Subscription, error) {
	settings := fetchSettings(ctx, data, userID, log)
	filter := &remote.Filter{Column: "device_id", Value: deviceID}
	return data.Subscribe(remote.TableReadings, filter, []remote.EventKind{remote.EventInsert}, func(ev remote.ChangeEvent) {
		reading, err := remote.DecodeRow[models.SensorReading](ev.New)
		if err != nil {
			log.Warnw("reading_event_undecodable", "err", err)
			return
		}
		if err := snapshots.Save(context.Background(), reading); err != nil {
			log.Warnw("snapshot_persist_failed", "device", reading.DeviceID, "err", err)
		}
		for _, breach := range alerting.Evaluate(reading, settings) {
			log.Warnw("threshold_breach",
				"type", breach.AlertType,
				"severity", breach.Severity,
				"message", breach.Message,
			)
		}
	})
}

// fetchSettings loads the user's thresholds, defaulting when none are
// stored.
func fetchSettings(ctx context.Context, data remote.DataService, userID string, log *logger.Logger) models.UserSettings {
	rows, err := data.Query(ctx, remote.TableUserSettings, remote.Query{
		Filters: []remote.Filter{{Column: "user_id", Value: userID}},
		Limit:   1,
	})
	if err != nil || len(rows) == 0 {
		if err != nil {
			log.Warnw("settings fetch failed; using defaults", "err", err)
		}
		return models.DefaultSettings()
	}
	var settings models.UserSettings
	if err := json.Unmarshal(rows[0], &settings); err != nil {
		log.Warnw("settings undecodable; using defaults", "err", err)
		return models.DefaultSettings()
	}
	return settings
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *dashboard.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful
// shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
