package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vpsdeck/panel/internal/auth"
	"github.com/vpsdeck/panel/internal/config"
	"github.com/vpsdeck/panel/internal/database"
	"github.com/vpsdeck/panel/internal/handlers"
	"github.com/vpsdeck/panel/internal/logging"
	"github.com/vpsdeck/panel/internal/sshaudit"
	"github.com/vpsdeck/panel/internal/sshkeys"
	"github.com/vpsdeck/panel/internal/sshterminal"
)

// systemKey is the shared credential used to reach every server.
type systemKey interface {
	sshterminal.CredentialProvider
	handlers.PublicKeySource
}

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--create-admin":
			runCLICommand("create-admin")
			return
		case "--issue-token":
			runCLICommand("issue-token")
			return
		case "--rotate-secrets-key":
			runCLICommand("rotate-secrets-key")
			return
		}
	}

	config.Load()
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if config.Cfg.SeedFile != "" {
		seed, err := config.LoadSeed(config.Cfg.SeedFile)
		if err != nil {
			log.Fatalf("Seed file: %v", err)
		}
		if err := database.ImportSeed(seed); err != nil {
			log.Fatalf("Seed import: %v", err)
		}
		log.Printf("Imported seed %s (%d users, %d servers)", config.Cfg.SeedFile, len(seed.Users), len(seed.Servers))
	}

	log.Printf("Config: AuthDisabled=%v, CredentialSource=%s, ReachableStatuses=%v",
		config.Cfg.AuthDisabled, config.Cfg.CredentialSource, config.Cfg.ReachableStatuses)

	// System key
	var key systemKey
	switch config.Cfg.CredentialSource {
	case "database":
		key = sshkeys.NewDatabaseProvider()
	case "file", "":
		key = sshkeys.NewFileProvider(filepath.Join(config.Cfg.DataPath, "ssh"))
	default:
		log.Fatalf("Unknown credential source %q (want file or database)", config.Cfg.CredentialSource)
	}
	if _, err := key.Signer(context.Background()); err != nil {
		log.Fatalf("System key init: %v", err)
	}
	handlers.SystemKey = key

	hostKeys, err := sshkeys.HostKeyCallback(config.Cfg.SSHKnownHosts)
	if err != nil {
		log.Fatalf("Host key verification: %v", err)
	}
	if config.Cfg.SSHKnownHosts == "" {
		log.Printf("WARNING: SSH_KNOWN_HOSTS not set, server host keys are not verified")
	}

	// Terminal session manager
	termMgr := sshterminal.NewManager(handlers.ServerLookup{}, key, &sshterminal.SSHDialer{
		User:            config.Cfg.SSHUser,
		HostKeyCallback: hostKeys,
		Timeout:         config.Cfg.SSHDialTimeout,
	}, sshterminal.ManagerConfig{
		ReachableStatuses: config.Cfg.ReachableSet(),
		DefaultPort:       config.Cfg.SSHPort,
		IdleTimeout:       config.Cfg.TerminalIdleTimeout,
		RateLimit:         config.Cfg.TerminalRateLimit,
		RateBurst:         config.Cfg.TerminalRateBurst,
		RecordingDir:      config.Cfg.TerminalRecordingDir,
	})
	handlers.TerminalMgr = termMgr
	handlers.RecordingDir = config.Cfg.TerminalRecordingDir
	handlers.TerminalOriginPatterns = config.Cfg.AllowedOrigins
	log.Printf("Terminal session manager initialized (user=%s, idle_timeout=%s, recording=%q)",
		config.Cfg.SSHUser, config.Cfg.TerminalIdleTimeout, config.Cfg.TerminalRecordingDir)

	// Audit trail
	auditor := sshaudit.InitGlobal(database.DB, config.Cfg.AuditRetentionDays)
	termMgr.SetAuditSink(auditor)
	stopPrune, err := auditor.StartRetentionCleanup(config.Cfg.AuditPruneSchedule)
	if err != nil {
		log.Fatalf("Audit retention schedule: %v", err)
	}
	defer stopPrune()

	// Init session store
	sessionStore := auth.NewSessionStore()
	handlers.SessionStore = sessionStore

	// Session cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			sessionStore.Cleanup()
		}
	}()

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: handlers.NewRouter(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Terminal websockets are hijacked connections that srv.Shutdown does not
	// wait for, so the sessions are ended first.
	if err := termMgr.Stop(shutdownCtx); err != nil {
		log.Printf("Terminal shutdown: %v (open shells: %d)", err, termMgr.OpenShells())
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	username := fs.String("username", "", "Username")
	label := fs.String("label", "cli", "Token label (issue-token)")
	ttl := fs.Duration("ttl", 0, "Token lifetime, 0 for no expiry (issue-token)")
	keep := fs.Int("keep", 3, "Keys kept in the secrets keyring (rotate-secrets-key)")
	fs.Parse(os.Args[2:])

	if *username == "" && command != "rotate-secrets-key" {
		fmt.Fprintf(os.Stderr, "Usage: vpsdeck --%s --username <user>\n", command)
		os.Exit(1)
	}

	config.Load()
	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	switch command {
	case "create-admin":
		user := &database.User{
			Username: *username,
			Role:     "admin",
		}
		if err := database.CreateUser(user); err != nil {
			log.Fatalf("Failed to create admin: %v", err)
		}
		fmt.Printf("Admin user '%s' created successfully.\n", *username)

	case "issue-token":
		user, err := database.GetUserByUsername(*username)
		if err != nil {
			log.Fatalf("User '%s' not found", *username)
		}
		token, err := auth.NewToken()
		if err != nil {
			log.Fatalf("Failed to generate token: %v", err)
		}
		rec := &database.APIToken{
			UserID:    user.ID,
			TokenHash: auth.HashToken(token),
			Label:     *label,
		}
		if *ttl > 0 {
			exp := time.Now().Add(*ttl)
			rec.ExpiresAt = &exp
		}
		if err := database.CreateAPIToken(rec); err != nil {
			log.Fatalf("Failed to store token: %v", err)
		}
		fmt.Println(token)

	case "rotate-secrets-key":
		if err := sshkeys.RotateSecretsKey(*keep); err != nil {
			log.Fatalf("Failed to rotate secrets key: %v", err)
		}
		fmt.Printf("Secrets key rotated (keeping %d).\n", *keep)
	}
}
